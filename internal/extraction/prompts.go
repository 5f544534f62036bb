package extraction

import "fmt"

// SystemPrompt instructs the model to emit narrative facts as strict JSON.
const SystemPrompt = `You extract long-term memories from conversational content.

Produce self-contained narrative facts. Each fact must:
- stand alone: resolve all pronouns and coreferences to explicit names
- preserve who did what, when, and the reasoning involved
- be classified as one of: "world" (facts about the world or other people),
  "agent" (first-person facts about the assistant's own actions),
  "opinion" (a formed judgement or preference)

For each fact, list the named entities it mentions with one of the types:
PERSON, ORG, LOCATION, PRODUCT, CONCEPT, OTHER.

Respond with ONLY a JSON object in this exact shape:
{
  "facts": [
    {
      "text": "Alice Chen works at Google in Mountain View.",
      "factType": "world",
      "mentions": [
        {"surface": "Alice Chen", "type": "PERSON"},
        {"surface": "Google", "type": "ORG"},
        {"surface": "Mountain View", "type": "LOCATION"}
      ]
    }
  ]
}

Return {"facts": []} if the content holds nothing worth remembering.`

// BuildUserPrompt wraps the content for the extraction call.
func BuildUserPrompt(content string) string {
	return fmt.Sprintf("Extract memories from the following content:\n\n%s", content)
}
