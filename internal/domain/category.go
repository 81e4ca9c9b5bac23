package domain

import "strings"

// Category is one value from the closed category taxonomy used across the
// dashboard. The set is fixed; user-defined categories are not supported.
type Category string

const (
	CategoryGroceries     Category = "Groceries"
	CategoryRestaurants   Category = "Restaurants"
	CategoryEducation     Category = "Education"
	CategoryTransport     Category = "Transport"
	CategoryTravel        Category = "Travel"
	CategoryShopping      Category = "Shopping"
	CategoryUtilities     Category = "Utilities"
	CategoryEntertainment Category = "Entertainment"
	CategoryHealth        Category = "Health"
	CategoryIncome        Category = "Income"
	CategoryMiscellaneous Category = "Miscellaneous"
	CategoryUncategorized Category = "Uncategorized"
	CategoryBankTransfer  Category = "Bank Transfer"
)

// Categories lists every valid category in display order.
var Categories = []Category{
	CategoryGroceries,
	CategoryRestaurants,
	CategoryEducation,
	CategoryTransport,
	CategoryTravel,
	CategoryShopping,
	CategoryUtilities,
	CategoryEntertainment,
	CategoryHealth,
	CategoryIncome,
	CategoryMiscellaneous,
	CategoryUncategorized,
	CategoryBankTransfer,
}

// ParseCategory matches s against the taxonomy, ignoring case and surrounding
// whitespace. The second return value reports whether a match was found.
func ParseCategory(s string) (Category, bool) {
	needle := strings.ToLower(strings.TrimSpace(s))
	for _, c := range Categories {
		if strings.ToLower(string(c)) == needle {
			return c, true
		}
	}
	return "", false
}

// IsValidCategory reports whether s is exactly one of the taxonomy values.
func IsValidCategory(s string) bool {
	for _, c := range Categories {
		if string(c) == s {
			return true
		}
	}
	return false
}
