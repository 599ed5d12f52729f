package services

// BadRequestError is returned when a request payload is invalid
type BadRequestError struct {
	Message string
}

func (e *BadRequestError) Error() string { return e.Message }

// ErrorName returns the error name used in responses
func (e *BadRequestError) ErrorName() string { return "bad_request" }

// UnauthorizedError is returned when credentials are rejected
type UnauthorizedError struct {
	Message string
}

func (e *UnauthorizedError) Error() string { return e.Message }

// ErrorName returns the error name used in responses
func (e *UnauthorizedError) ErrorName() string { return "unauthorized" }

// NotFoundError is returned when the requested record does not exist
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

// ErrorName returns the error name used in responses
func (e *NotFoundError) ErrorName() string { return "not_found" }

// UnavailableError is returned when a dependency is not ready
type UnavailableError struct {
	Message string
}

func (e *UnavailableError) Error() string { return e.Message }

// ErrorName returns the error name used in responses
func (e *UnavailableError) ErrorName() string { return "unavailable" }
