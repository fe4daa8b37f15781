package logger

import "log/slog"

// Error creates an attribute for a single error under the key "error".
// If err is nil, it returns an empty Attr.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

// UserID records the user identifier under the key "user_id".
func UserID(id any) slog.Attr {
	if id == nil {
		return slog.Attr{}
	}
	return slog.Any("user_id", id)
}

// Feature records a metered feature name under the key "feature".
func Feature(f any) slog.Attr {
	return slog.Any("feature", f)
}

// PlanRef records a plan reference under the key "plan_ref".
func PlanRef(ref string) slog.Attr {
	return slog.String("plan_ref", ref)
}
