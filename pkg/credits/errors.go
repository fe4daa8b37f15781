package credits

import "errors"

// Domain errors for credit accounting operations
var (
	// Lookup errors
	ErrUserNotFound = errors.New("credits.errors.user_not_found")
	ErrPlanNotFound = errors.New("credits.errors.plan_not_found")

	// Input errors
	ErrInvalidFeature      = errors.New("credits.errors.invalid_feature")
	ErrNonPositiveCost     = errors.New("credits.errors.non_positive_cost")
	ErrNoCounterRegistered = errors.New("credits.errors.no_counter_registered")

	// Storage errors
	ErrStorageConflict       = errors.New("credits.errors.storage_conflict")
	ErrFailedToResolvePlan   = errors.New("credits.errors.failed_to_resolve_plan")
	ErrFailedToCountResource = errors.New("credits.errors.failed_to_count_resource")
)
