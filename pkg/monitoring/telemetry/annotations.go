package telemetry

import "github.com/gin-gonic/gin"

const annotationsKey = "telemetry.annotations"

// Annotations carry domain-specific values a handler wants recorded with its request log
type Annotations struct {
	ModelUsed       string
	ComplexityScore *float64
	RiskScore       *float64
	ExecutionTime   *float64
	DatabaseName    string
}

// Annotate lets a handler fill in annotations for the current request
func Annotate(c *gin.Context, fn func(a *Annotations)) {
	a := AnnotationsFrom(c)
	if a == nil {
		a = &Annotations{}
		c.Set(annotationsKey, a)
	}
	fn(a)
}

// AnnotationsFrom returns the annotations set on the request, nil when none
func AnnotationsFrom(c *gin.Context) *Annotations {
	v, ok := c.Get(annotationsKey)
	if !ok {
		return nil
	}
	a, _ := v.(*Annotations)
	return a
}
