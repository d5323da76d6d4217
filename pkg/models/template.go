// Package models contains shared data models used across the Vista codebase.
package models

import "time"

// ModelKind identifies the provider pipeline family a template targets.
// It decides how the request payload is shaped; new pipelines add a new kind.
type ModelKind string

const (
	ModelKindMotionControl ModelKind = "motion-control"
	ModelKindImageToVideo  ModelKind = "image-to-video"
	ModelKindActorMotion   ModelKind = "actor-motion"
)

// InputType is the media family a template expects from the user.
type InputType string

const (
	InputTypeImage InputType = "image"
	InputTypeVideo InputType = "video"
)

// Request shape field names, as stored in the catalog.
const (
	ShapeMotionVideoURL = "motionVideoUrl"
	ShapePrompt         = "prompt"
	ShapeActorImageURL  = "actorImageUrl"
)

// Template is a catalog entry describing one generation preset.
// Owned by the catalog; the orchestrator only reads it at submission time.
type Template struct {
	ID                  string            `json:"id"                  toml:"id"`
	Name                string            `json:"name"                toml:"name"`
	Description         string            `json:"description"         toml:"description"`
	PreviewURL          string            `json:"previewUrl"          toml:"preview_url"`
	Category            string            `json:"category"            toml:"category"`
	Subcategory         string            `json:"subcategory"         toml:"subcategory"`
	ModelEndpoint       string            `json:"modelEndpoint"       toml:"model_endpoint"`
	ModelKind           ModelKind         `json:"modelKind"           toml:"model_kind"`
	InputType           InputType         `json:"inputType"           toml:"input_type"`
	InputRecommendation string            `json:"inputRecommendation" toml:"input_recommendation"`
	RequestShape        map[string]string `json:"requestShape"        toml:"request_shape"`
	Keywords            []string          `json:"keywords"            toml:"keywords"`
	IsActive            bool              `json:"isActive"            toml:"is_active"`
	CreatedAt           time.Time         `json:"createdAt"           toml:"-"`
}
