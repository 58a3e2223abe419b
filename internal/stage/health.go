package stage

import "strings"

// Health summarizes whether a stage can run right now.
type Health struct {
	Name   string
	Ready  bool
	Detail string
}

// Healthy reports a ready stage.
func Healthy(name string) Health {
	return Health{Name: name, Ready: true}
}

// Unhealthy reports a stage that cannot run, with the reason.
func Unhealthy(name, detail string) Health {
	return Health{Name: name, Ready: false, Detail: strings.TrimSpace(detail)}
}

// HealthFromError is Healthy when err is nil and Unhealthy otherwise.
func HealthFromError(name string, err error) Health {
	if err == nil {
		return Healthy(name)
	}
	return Unhealthy(name, err.Error())
}
