// Package generator produces travel itineraries with a chat completion model.
package generator

import "fmt"

const promptTemplate = `Create a detailed travel itinerary for %d days in %s. Format it as strict JSON like this:
{
  "itinerary": [
    {
      "day": 1,
      "theme": "Historical Paris",
      "activities": [
        {
          "time": "Morning",
          "description": "Visit the Louvre Museum. Pre-book tickets to avoid queues.",
          "location": "Louvre Museum"
        },
        {
          "time": "Afternoon",
          "description": "Walk along the Seine around Ile de la Cite.",
          "location": "Ile de la Cite"
        },
        {
          "time": "Evening",
          "description": "Dinner in the Latin Quarter.",
          "location": "Latin Quarter"
        }
      ]
    }
  ]
}
Add one entry per day in the same format. Reply with the JSON document only.`

// BuildPrompt returns the single user message sent to the model.
func BuildPrompt(destination string, durationDays int) string {
	return fmt.Sprintf(promptTemplate, durationDays, destination)
}
