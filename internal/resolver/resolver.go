// Package resolver maps a template id to the provider endpoint and the request shape
// that template needs.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/kiranshivaraju/vista/internal/catalog"
	"github.com/kiranshivaraju/vista/pkg/models"
)

// ErrConfiguration means the template lacks the data its pipeline needs. Not retryable.
var ErrConfiguration = errors.New("template configuration error")

// Shape is one request-shaping variant. Input receives the provider storage URL of the
// user's uploaded media.
type Shape interface {
	Kind() models.ModelKind
	Input(mediaURL string) map[string]any
}

// MotionControl animates the user's image with a reference motion video.
type MotionControl struct {
	MotionVideoURL string `shape:"motionVideoUrl" validate:"required,url"`
}

func (MotionControl) Kind() models.ModelKind { return models.ModelKindMotionControl }

func (s MotionControl) Input(mediaURL string) map[string]any {
	return map[string]any{
		"image_url":             mediaURL,
		"video_url":             s.MotionVideoURL,
		"character_orientation": "video",
		"keep_original_sound":   true,
	}
}

// ImageToVideo generates a clip from the user's image and a text prompt.
type ImageToVideo struct {
	Prompt string `shape:"prompt" validate:"required"`
}

func (ImageToVideo) Kind() models.ModelKind { return models.ModelKindImageToVideo }

func (s ImageToVideo) Input(mediaURL string) map[string]any {
	return map[string]any{
		"prompt":          s.Prompt,
		"start_image_url": mediaURL,
	}
}

// ActorMotion drives a fixed actor image with the user's video.
type ActorMotion struct {
	ActorImageURL string `shape:"actorImageUrl" validate:"required,url"`
}

func (ActorMotion) Kind() models.ModelKind { return models.ModelKindActorMotion }

func (s ActorMotion) Input(mediaURL string) map[string]any {
	return map[string]any{
		"image_url":             s.ActorImageURL,
		"video_url":             mediaURL,
		"character_orientation": "video",
		"keep_original_sound":   true,
	}
}

// Resolution is everything the pipeline needs to submit a job for one template.
type Resolution struct {
	Template *models.Template
	Endpoint string
	Shape    Shape
}

// Resolver looks templates up in a catalog and builds their shape.
type Resolver struct {
	catalog  catalog.Catalog
	validate *validator.Validate
}

func New(c catalog.Catalog) *Resolver {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		return f.Tag.Get("shape")
	})
	return &Resolver{catalog: c, validate: v}
}

// Resolve returns catalog.ErrNotFound for unknown ids and ErrConfiguration for templates
// that cannot be submitted.
func (r *Resolver) Resolve(ctx context.Context, templateID string) (*Resolution, error) {
	tmpl, err := r.catalog.GetTemplate(ctx, templateID)
	if err != nil {
		return nil, err
	}
	if !tmpl.IsActive {
		return nil, fmt.Errorf("%w: template %s is inactive", ErrConfiguration, tmpl.ID)
	}
	if strings.TrimSpace(tmpl.ModelEndpoint) == "" {
		return nil, fmt.Errorf("%w: template %s has no model endpoint", ErrConfiguration, tmpl.ID)
	}

	shape, err := r.BuildShape(tmpl)
	if err != nil {
		return nil, err
	}
	return &Resolution{Template: tmpl, Endpoint: tmpl.ModelEndpoint, Shape: shape}, nil
}

// BuildShape selects the variant for the template's model kind and validates its fields.
// An unknown kind falls back to the variant whose field is present in the request shape.
func (r *Resolver) BuildShape(tmpl *models.Template) (Shape, error) {
	kind := tmpl.ModelKind
	switch kind {
	case models.ModelKindMotionControl, models.ModelKindImageToVideo, models.ModelKindActorMotion:
	default:
		kind = inferKind(tmpl.RequestShape)
		if kind == "" {
			return nil, fmt.Errorf("%w: template %s has unknown model kind %q and no usable request shape",
				ErrConfiguration, tmpl.ID, tmpl.ModelKind)
		}
	}

	shape := newShape(kind, tmpl.RequestShape)
	if err := r.validate.Struct(shape); err != nil {
		return nil, fmt.Errorf("%w: template %s (%s): %s", ErrConfiguration, tmpl.ID, kind, describe(err))
	}
	return shape, nil
}

func newShape(kind models.ModelKind, fields map[string]string) Shape {
	switch kind {
	case models.ModelKindImageToVideo:
		return ImageToVideo{Prompt: strings.TrimSpace(fields[models.ShapePrompt])}
	case models.ModelKindActorMotion:
		return ActorMotion{ActorImageURL: strings.TrimSpace(fields[models.ShapeActorImageURL])}
	default:
		return MotionControl{MotionVideoURL: strings.TrimSpace(fields[models.ShapeMotionVideoURL])}
	}
}

func inferKind(fields map[string]string) models.ModelKind {
	switch {
	case fields[models.ShapeMotionVideoURL] != "":
		return models.ModelKindMotionControl
	case fields[models.ShapePrompt] != "":
		return models.ModelKindImageToVideo
	case fields[models.ShapeActorImageURL] != "":
		return models.ModelKindActorMotion
	}
	return ""
}

func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, "missing "+fe.Field())
		case "url":
			msgs = append(msgs, fe.Field()+" is not a valid URL")
		default:
			msgs = append(msgs, fe.Field()+" failed "+fe.Tag())
		}
	}
	return strings.Join(msgs, ", ")
}
