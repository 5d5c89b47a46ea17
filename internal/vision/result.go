package vision

import (
	"math"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"

	apperrors "github.com/betterme/betterme/internal/errors"
)

// Rating is a 1-10 score. The model sometimes quotes numbers, so both
// forms are accepted.
type Rating float64

func (r *Rating) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "null" || s == "" {
		*r = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*r = Rating(v)
	return nil
}

func (r Rating) clamp() Rating {
	return Rating(math.Max(1, math.Min(10, float64(r))))
}

type Ratings struct {
	Face    *Rating `json:"face_rating"`
	Hair    *Rating `json:"hair_rating"`
	Teeth   *Rating `json:"teeth_rating"`
	Body    *Rating `json:"body_rating"`
	Overall *Rating `json:"overall_rating"`
}

func (r *Ratings) all() []*Rating {
	return []*Rating{r.Face, r.Hair, r.Teeth, r.Body, r.Overall}
}

type FacialAnalysis struct {
	FaceShape       string   `json:"face_shape"`
	Symmetry        string   `json:"symmetry"`
	Proportions     string   `json:"proportions"`
	NotableFeatures []string `json:"notable_features"`
}

type SkinAnalysis struct {
	SkinType        string   `json:"skin_type"`
	Texture         string   `json:"texture"`
	Concerns        []string `json:"concerns"`
	Recommendations []string `json:"recommendations"`
}

type HairAnalysis struct {
	HairType        string   `json:"hair_type"`
	Texture         string   `json:"texture"`
	Condition       string   `json:"condition"`
	Recommendations []string `json:"recommendations"`
}

type TeethAnalysis struct {
	Alignment       string   `json:"alignment"`
	Color           string   `json:"color"`
	Health          string   `json:"health"`
	Concerns        []string `json:"concerns"`
	Recommendations []string `json:"recommendations"`
}

type BodyAnalysis struct {
	Posture         string   `json:"posture"`
	BodyType        string   `json:"body_type"`
	Proportions     string   `json:"proportions"`
	Concerns        []string `json:"concerns"`
	Recommendations []string `json:"recommendations"`
}

type Lifestyle struct {
	Fitness    []string `json:"fitness"`
	Nutrition  []string `json:"nutrition"`
	Sleep      []string `json:"sleep"`
	Posture    []string `json:"posture"`
	Grooming   []string `json:"grooming"`
	Fashion    []string `json:"fashion"`
	Dental     []string `json:"dental"`
	Confidence []string `json:"confidence"`
}

type Recommendations struct {
	Skincare     []string   `json:"skincare"`
	Hairstyle    []string   `json:"hairstyle"`
	Dental       []string   `json:"dental"`
	Fashion      []string   `json:"fashion"`
	Products     []string   `json:"products"`
	Improvements []string   `json:"improvements"`
	Lifestyle    *Lifestyle `json:"lifestyle"`
}

// AnalysisResult is the structured answer of a photo analysis. It is
// stored verbatim as the analysis text.
type AnalysisResult struct {
	Facial          *FacialAnalysis  `json:"facial_analysis"`
	Skin            *SkinAnalysis    `json:"skin_analysis"`
	Hair            *HairAnalysis    `json:"hair_analysis"`
	Teeth           *TeethAnalysis   `json:"teeth_analysis"`
	Body            *BodyAnalysis    `json:"body_analysis"`
	Recommendations *Recommendations `json:"recommendations"`
	Ratings         *Ratings         `json:"ratings"`
}

// Validate checks that every section and rating is present and clamps the
// ratings into 1-10.
func (r *AnalysisResult) Validate() error {
	var missing []string
	if r.Facial == nil {
		missing = append(missing, "facial_analysis")
	}
	if r.Skin == nil {
		missing = append(missing, "skin_analysis")
	}
	if r.Hair == nil {
		missing = append(missing, "hair_analysis")
	}
	if r.Teeth == nil {
		missing = append(missing, "teeth_analysis")
	}
	if r.Body == nil {
		missing = append(missing, "body_analysis")
	}
	if r.Recommendations == nil {
		missing = append(missing, "recommendations")
	} else if r.Recommendations.Lifestyle == nil {
		missing = append(missing, "recommendations.lifestyle")
	}
	if r.Ratings == nil {
		missing = append(missing, "ratings")
	} else {
		names := []string{"face_rating", "hair_rating", "teeth_rating", "body_rating", "overall_rating"}
		for i, v := range r.Ratings.all() {
			if v == nil {
				missing = append(missing, "ratings."+names[i])
			}
		}
	}
	if len(missing) > 0 {
		return apperrors.NewValidation("analysis result is missing " + strings.Join(missing, ", "))
	}

	for _, v := range r.Ratings.all() {
		*v = v.clamp()
	}
	return nil
}

// Scores returns the ratings as plain floats in storage order:
// face, hair, teeth, body, overall.
func (r *AnalysisResult) Scores() (face, hair, teeth, body, overall float64) {
	return float64(*r.Ratings.Face), float64(*r.Ratings.Hair), float64(*r.Ratings.Teeth),
		float64(*r.Ratings.Body), float64(*r.Ratings.Overall)
}

// extractJSON strips markdown fences and surrounding prose from a model
// reply, returning the outermost JSON object.
func extractJSON(text string) (string, error) {
	text = strings.TrimSpace(text)
	if jsoniter.Valid([]byte(text)) {
		return text, nil
	}

	cleaned := strings.TrimPrefix(text, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(strings.TrimSpace(cleaned), "```")
	cleaned = strings.TrimSpace(cleaned)

	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start == -1 || end < start {
		return "", apperrors.NewValidation("no JSON object found in model response")
	}
	cleaned = cleaned[start : end+1]
	if !jsoniter.Valid([]byte(cleaned)) {
		return "", apperrors.NewValidation("model response is not valid JSON")
	}
	return cleaned, nil
}
