// Package logging provides structured logging helpers shared across the
// hybrid inference core. Every component logs through logrus with a
// consistent set of field names so log lines can be correlated across the
// sanitizer, router, breaker, and execution manager.
package logging

import "time"

// Fields is a logrus.Fields-compatible map with typed setters for the
// vocabulary this core logs by. Resource (name), Error, RequestID, TraceID
// and Provider omit empty values; the other setters always set their field.
type Fields map[string]interface{}

// NewFields returns an empty field set.
func NewFields() Fields {
	return Fields{}
}

func (f Fields) Component(name string) Fields {
	f["component"] = name
	return f
}

func (f Fields) Operation(name string) Fields {
	f["operation"] = name
	return f
}

func (f Fields) Resource(kind, name string) Fields {
	f["resource_type"] = kind
	if name != "" {
		f["resource_name"] = name
	}
	return f
}

func (f Fields) Duration(d time.Duration) Fields {
	f["duration_ms"] = d.Milliseconds()
	return f
}

func (f Fields) Error(err error) Fields {
	if err != nil {
		f["error"] = err.Error()
	}
	return f
}

func (f Fields) RequestID(id string) Fields {
	if id != "" {
		f["request_id"] = id
	}
	return f
}

func (f Fields) TraceID(id string) Fields {
	if id != "" {
		f["trace_id"] = id
	}
	return f
}

func (f Fields) StatusCode(code int) Fields {
	f["status_code"] = code
	return f
}

// Decision records a shadow-router routing decision for the
// shadow_router_decision audit entry.
func (f Fields) Decision(location, targetModel string) Fields {
	f["decision_location"] = location
	f["target_model"] = targetModel
	return f
}

func (f Fields) Complexity(c string) Fields {
	f["complexity"] = c
	return f
}

func (f Fields) Intent(i string) Fields {
	f["intent"] = i
	return f
}

func (f Fields) ElapsedMS(d time.Duration) Fields {
	f["elapsed_ms"] = d.Milliseconds()
	return f
}

func (f Fields) Provider(name string) Fields {
	if name != "" {
		f["provider"] = name
	}
	return f
}
