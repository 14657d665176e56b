package profile

// Field describes one key of a profile document.
type Field struct {
	Key         string
	Type        string // "string" or "number"
	Description string
	// Min and Max bound number fields when Max > Min.
	Min, Max float64
}

// Ranged reports whether the field is a bounded number.
func (f Field) Ranged() bool {
	return f.Type == "number" && f.Max > f.Min
}

// Personality file and fields.
const PersonalityFile = "personality.json"

var PersonalityFields = []Field{
	{Key: "name", Type: "string", Description: "The name of the personality"},
	{Key: "humour", Type: "number", Max: 10, Description: "Humour level - how witty and sarcastic you are, similar to Jarvis from Iron Man or TARS from Interstellar vs being more formal"},
	{Key: "empathy", Type: "number", Max: 10, Description: "Empathy level - how much you can understand and relate to others"},
	{Key: "intelligence", Type: "number", Max: 10, Description: "Intelligence level - how smart and analytical you are, maybe even cocky, like HAL from 2001: A Space Odyssey"},
	{Key: "authority", Type: "number", Max: 10, Description: "Authority level - how confident and assertive you are - if higher, should not be afraid to challenge the user and push them to do better like a parent would"},
}

// User profile file and fields.
const UserProfileFile = "user-profile.json"

var UserProfileFields = []Field{
	{Key: "name", Type: "string", Description: "The user's name"},
	{Key: "location", Type: "string", Description: "Where the user lives"},
	{Key: "age", Type: "number", Description: "The user's age"},
	{Key: "gender", Type: "string", Description: "The user's gender identity"},
	{Key: "occupation", Type: "string", Description: "The user's job or profession"},
	{Key: "interests", Type: "string", Description: "The user's hobbies and interests"},
	{Key: "goals", Type: "string", Description: "What the user wants to achieve"},
	{Key: "values", Type: "string", Description: "What the user considers important in life"},
	{Key: "beliefs", Type: "string", Description: "The user's core beliefs and worldview"},
	{Key: "challenges", Type: "string", Description: "Difficulties or obstacles the user is facing"},
	{Key: "life_story", Type: "string", Description: "A brief narrative of the user's life experiences"},
}
