package menu

// ExtractionPrompt instructs the vision model to return menu items as a bare
// JSON array. The model is free-text; ParseItems tolerates surrounding prose.
const ExtractionPrompt = `Analyze this restaurant menu image carefully. ` +
	`Extract all menu items and create a JSON array where each item is an object ` +
	`with 'title', 'description', and 'calories' fields. The 'calories' field ` +
	`should be your estimation of the calories in the dish based on the ` +
	`description and assuming a single serving portion. Format your response as: ` +
	`[{"title":"Dish Name", "description":"Dish description", "calories": 450}]. ` +
	`Only include this JSON array in your response.`

// IllustrationPrompt wraps a dish description into a prompt suitable for the
// image generation upstream.
func IllustrationPrompt(description string) string {
	return "A delicious " + description + ". Professional food photograph, high quality"
}

// IllustrationNegativePrompt lists artifacts the image upstream should avoid.
const IllustrationNegativePrompt = "blurry, text, watermark, low quality, distorted, ugly food"
