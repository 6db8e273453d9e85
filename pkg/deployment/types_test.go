package deployment

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func sample() *Deployment {
	return &Deployment{
		Kind:     "Deployment",
		Metadata: Metadata{Name: "digits", Labels: map[string]string{"team": "ml"}},
		Spec: Spec{
			Steps:     []Step{{Name: "importer"}, {Name: "trainer", Parameters: map[string]string{"epochs": "3", "lr": "0.1"}}},
			Build:     Build{Context: "./src"},
			Resources: Resources{CPU: "2", Memory: "4Gi"},
		},
	}
}

func TestID_StableAndContentDerived(t *testing.T) {
	a, b := sample(), sample()
	assert.Equal(t, a.ID(), b.ID())
	assert.Len(t, a.ID(), 16)

	b.Spec.RunName = "other-run"
	b.Annotate(ImageAnnotation, "img")
	assert.Equal(t, a.ID(), b.ID(), "run name and annotations do not change identity")

	b.Spec.Steps[1].Parameters["epochs"] = "4"
	assert.NotEqual(t, a.ID(), b.ID())
}

func TestAnnotations(t *testing.T) {
	d := sample()
	_, ok := d.Annotation(ImageAnnotation)
	assert.False(t, ok)

	d.Annotate(ImageAnnotation, "")
	_, ok = d.Annotation(ImageAnnotation)
	assert.False(t, ok, "empty values count as absent")

	d.Annotate(ImageAnnotation, "reg/img@sha256:1")
	v, ok := d.Annotation(ImageAnnotation)
	assert.True(t, ok)
	assert.Equal(t, "reg/img@sha256:1", v)
}

func TestStepNamesAndLaunchOptions(t *testing.T) {
	d := sample()
	assert.Equal(t, []string{"importer", "trainer"}, d.StepNames())
	assert.Equal(t, map[string]string{
		"cpu":        "2",
		"memory":     "4Gi",
		"label.team": "ml",
	}, d.LaunchOptions())
}
