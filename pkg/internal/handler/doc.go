// Package handler provides internal reflection-based handler execution.
//
// This package is internal and should not be imported directly.
// It binds a job's positional arguments to a function's parameters by
// position and hands the keyword arguments to a trailing core.Kwargs
// parameter when the function declares one.
package handler
