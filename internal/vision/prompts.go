package vision

import (
	"fmt"

	"github.com/betterme/betterme/internal/models"
)

func standardsFor(gender models.Gender) string {
	var kind string
	switch gender {
	case models.GenderFemale:
		kind = "feminine"
	case models.GenderMale:
		kind = "masculine"
	default:
		kind = "gender-neutral"
	}
	return fmt.Sprintf("Consider diverse %s beauty standards across cultures, emphasizing individuality and inclusivity.", kind)
}

func analysisPrompt(gender models.Gender) string {
	return `You are given six photos in this order: front of face, left side profile, right side profile, hair, teeth, full body.

First decide whether any photo is too blurry, poorly lit or otherwise unclear. If so, reply with exactly "` + blurryReply + `" and nothing else.

Otherwise reply with ONLY a JSON object, no markdown and no code fences, with this shape:
{
  "facial_analysis": {"face_shape": string, "symmetry": string, "proportions": string, "notable_features": [string]},
  "skin_analysis": {"skin_type": string, "texture": string, "concerns": [string], "recommendations": [string]},
  "hair_analysis": {"hair_type": string, "texture": string, "condition": string, "recommendations": [string]},
  "teeth_analysis": {"alignment": string, "color": string, "health": string, "concerns": [string], "recommendations": [string]},
  "body_analysis": {"posture": string, "body_type": string, "proportions": string, "concerns": [string], "recommendations": [string]},
  "recommendations": {
    "skincare": [string], "hairstyle": [string], "dental": [string], "fashion": [string], "products": [string], "improvements": [string],
    "lifestyle": {"fitness": [string], "nutrition": [string], "sleep": [string], "posture": [string], "grooming": [string], "fashion": [string], "dental": [string], "confidence": [string]}
  },
  "ratings": {"face_rating": number, "hair_rating": number, "teeth_rating": number, "body_rating": number, "overall_rating": number}
}

Ratings are 1 to 10: 1-3 needs significant improvement, 4-6 average, 7-8 above average, 9-10 exceptional.
overall_rating is the weighted average of face 35%, hair 25%, teeth 20% and body 20%.
Keep the tone objective and constructive. Recommendations must be actionable and put health and confidence ahead of cosmetic change.

` + standardsFor(gender)
}

func moderationPrompt(text string) string {
	return fmt.Sprintf(`Decide whether the following user post or comment contains harmful, inappropriate or offensive material:
hate speech or discrimination, explicit adult content, violence or gore, harassment or bullying, spam or misleading content,
personal attacks, or inappropriate language.

Content:
%q

Reply with ONLY a JSON object, no markdown and no code fences:
{"isAcceptable": boolean, "reason": string or null}
"reason" explains the problem when isAcceptable is false and is null otherwise.`, text)
}
