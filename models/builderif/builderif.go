// Package builderif holds an automatically generated list of valid "Builder" API for models.
//
// This package is not meant to be used directly, instead it only serves as a "compile-time" check that the
// model passed to models.NewExec has a valid Builder API.
package builderif

//go:generate go run ../../internal/cmd/builderif/
