package errors_test

import (
	"fmt"
	"io"

	"github.com/ajitpratap0/tributary/pkg/errors"
)

// Example demonstrates basic error creation and details.
func Example() {
	err := errors.New(errors.ErrorTypeConnection, "failed to reach analytics store").
		WithDetail("host", "localhost").
		WithDetail("port", 5432)

	fmt.Println(err.Error())

	// Output:
	// connection: failed to reach analytics store
}

// ExampleWrap shows how to wrap existing errors with context.
func ExampleWrap() {
	err := errors.Wrap(io.ErrUnexpectedEOF, errors.ErrorTypeData, "failed to decode page").
		WithDetail("table", "deals")

	if errors.IsType(err, errors.ErrorTypeData) {
		fmt.Println("data error")
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		fmt.Println("caused by unexpected EOF")
	}

	// Output:
	// data error
	// caused by unexpected EOF
}

// ExampleMissing shows the error reported for absent credential keys.
func ExampleMissing() {
	err := errors.Missing([]string{"client_id", "realm_id"})
	fmt.Println(err.Message)
	fmt.Println(errors.IsType(err, errors.ErrorTypeConfig))

	// Output:
	// Missing credentials: client_id, realm_id
	// true
}

// ExampleIsRetryable shows which error types the HTTP retry policy retries.
func ExampleIsRetryable() {
	fmt.Println(errors.IsRetryable(errors.New(errors.ErrorTypeRateLimit, "429 from api")))
	fmt.Println(errors.IsRetryable(errors.New(errors.ErrorTypeAuthentication, "401 after refresh")))

	// Output:
	// true
	// false
}

// ExampleHasType shows how a partial extraction is detected through wrapping.
func ExampleHasType() {
	pageErr := errors.New(errors.ErrorTypeConnection, "page 3 timed out")
	partial := errors.Wrap(pageErr, errors.ErrorTypePartial, "kept 200 records")
	wrapped := errors.Wrap(partial, errors.ErrorTypeInternal, "extract deals")

	fmt.Println(errors.IsType(wrapped, errors.ErrorTypePartial))
	fmt.Println(errors.HasType(wrapped, errors.ErrorTypePartial))

	// Output:
	// false
	// true
}

// ExampleMessage shows how results render a failure for users.
func ExampleMessage() {
	err := errors.Wrap(
		errors.New(errors.ErrorTypeAuthentication, "token rejected"),
		errors.ErrorTypeConnection, "Failed to list tables")

	fmt.Println(errors.Message(err))
	fmt.Println(errors.TypeOf(err))
	fmt.Println(errors.HasType(err, errors.ErrorTypeAuthentication))
	fmt.Println(errors.TypeOf(io.EOF), errors.Message(io.EOF))

	// Output:
	// Failed to list tables
	// connection
	// true
	// internal EOF
}
