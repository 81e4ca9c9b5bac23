package categorize

import "github.com/dvloznov/nexpass/internal/domain"

// keywordGroup ties a category to the merchant keywords that imply it.
// Groups are tested in order and the first hit wins, so the more specific
// spending categories come before the broad ones.
type keywordGroup struct {
	category domain.Category
	words    []string
}

var keywordGroups = []keywordGroup{
	{domain.CategoryGroceries, []string{
		"grocery", "supermarket", "aldi", "lidl", "tesco", "sainsbury", "carrefour", "rewe", "edeka",
	}},
	{domain.CategoryRestaurants, []string{
		"restaurant", "cafe", "coffee", "pizza", "burger", "mcdonald", "starbucks", "takeaway", "deliveroo",
	}},
	{domain.CategoryTransport, []string{
		"uber", "taxi", "fuel", "petrol", "parking", "train", "metro", "bus ticket", "transit",
	}},
	{domain.CategoryShopping, []string{
		"amazon", "store", "shopping", "mall", "zara", "h&m", "ikea", "retail",
	}},
	{domain.CategoryEntertainment, []string{
		"netflix", "spotify", "cinema", "theatre", "concert", "steam", "playstation", "entertainment",
	}},
	{domain.CategoryUtilities, []string{
		"electric", "energy", "water", "internet", "broadband", "mobile", "phone bill", "rent", "insurance",
	}},
	{domain.CategoryHealth, []string{
		"pharmacy", "doctor", "dental", "hospital", "clinic", "gym", "fitness",
	}},
	{domain.CategoryEducation, []string{
		"school", "university", "tuition", "course", "udemy", "coursera", "bookshop",
	}},
	{domain.CategoryTravel, []string{
		"airline", "flight", "hotel", "hostel", "airbnb", "booking.com", "ryanair", "easyjet",
	}},
}
