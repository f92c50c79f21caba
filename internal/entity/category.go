package entity

import (
	"fmt"
	"strings"
)

// Category is the closed set of entity kinds the extraction step emits.
type Category string

const (
	CategoryPerson    Category = "PERSON"
	CategoryPlace     Category = "PLACE"
	CategoryPlant     Category = "PLANT"
	CategoryAnimal    Category = "ANIMAL"
	CategorySubstance Category = "SUBSTANCE"
	CategoryDisease   Category = "DISEASE"
	CategoryConcept   Category = "CONCEPT"
	CategoryObject    Category = "OBJECT"
)

var knownCategories = []Category{
	CategoryPerson,
	CategoryPlace,
	CategoryPlant,
	CategoryAnimal,
	CategorySubstance,
	CategoryDisease,
	CategoryConcept,
	CategoryObject,
}

// Categories returns every known category in a fixed order.
func Categories() []Category {
	out := make([]Category, len(knownCategories))
	copy(out, knownCategories)
	return out
}

// ParseCategory accepts any casing and surrounding whitespace.
func ParseCategory(raw string) (Category, error) {
	candidate := Category(strings.ToUpper(strings.TrimSpace(raw)))
	if candidate.Valid() {
		return candidate, nil
	}
	return "", fmt.Errorf("unknown category %q", raw)
}

func (c Category) Valid() bool {
	for _, known := range knownCategories {
		if c == known {
			return true
		}
	}
	return false
}

func (c Category) String() string {
	return string(c)
}
