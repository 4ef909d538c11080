package web

import (
	"github.com/ShoshinNikita/recipebox/recipebox"
)

type (
	RecipesResponse struct {
		// Total is the number of recipes that match the search.
		Total int `json:"total"`
		// Cuisines contains all cuisines, not only the ones of the matched recipes.
		Cuisines []string `json:"cuisines"`
		Recipes  []Recipe `json:"recipes"`
	}

	Recipe struct {
		recipebox.Recipe

		// ImageURL is an url of the recipe photo served through the image cache.
		ImageURL string `json:"image_url,omitempty"`
	}
)
