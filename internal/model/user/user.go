package user

import (
	"github.com/brianvoe/gofakeit/v6"
)

// Typename is the GraphQL object type users are exposed as.
const Typename = "User"

// User captures the row attributes exposed to the frontend.
type User struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Zodiac string `json:"zodiac"`
}

// Patch carries the fields of an edit. Nil fields keep their current value.
type Patch struct {
	Name   *string
	Zodiac *string
}

// Apply returns u with the patch fields replaced.
func (p Patch) Apply(u User) User {
	if p.Name != nil {
		u.Name = *p.Name
	}
	if p.Zodiac != nil {
		u.Zodiac = *p.Zodiac
	}
	return u
}

// ZodiacSigns lists the labels seeded users draw from. The field itself is
// free text and is never validated against this list.
var ZodiacSigns = []string{
	"Aries", "Taurus", "Gemini", "Cancer", "Leo", "Virgo",
	"Libra", "Scorpio", "Sagittarius", "Capricorn", "Aquarius", "Pisces",
}

// DefaultSeed matches the seed the demo data set was published with.
const DefaultSeed int64 = 18

// Seed generates count synthetic users. The same seed always yields the same
// users in the same order.
func Seed(seed int64, count int) []User {
	if count <= 0 {
		return nil
	}

	faker := gofakeit.New(seed)
	users := make([]User, 0, count)
	for i := 0; i < count; i++ {
		users = append(users, User{
			ID:     faker.UUID(),
			Name:   faker.Name(),
			Zodiac: faker.RandomString(ZodiacSigns),
		})
	}
	return users
}
