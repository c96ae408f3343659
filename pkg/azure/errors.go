package azure

import "fmt"

// SetupError reports a missing operator-side precondition: the az CLI
// is absent, the operator is not logged in, or no default subscription
// is selected. It is fatal; the operator must fix the environment.
type SetupError struct {
	Reason string
}

func (e *SetupError) Error() string {
	return "azure setup incomplete: " + e.Reason
}

// ProvisionError reports a failed resource creation. Partially created
// resources are left behind for manual or next-run cleanup.
type ProvisionError struct {
	Name string
	Err  error
}

func (e *ProvisionError) Error() string {
	return fmt.Sprintf("failed to provision %s: %v", e.Name, e.Err)
}

func (e *ProvisionError) Unwrap() error {
	return e.Err
}

// TeardownError reports a failed resource deletion. Callers log it
// instead of failing the test, so orphaned billable resources are at
// least visible.
type TeardownError struct {
	Name string
	Err  error
}

func (e *TeardownError) Error() string {
	return fmt.Sprintf("failed to tear down %s: %v", e.Name, e.Err)
}

func (e *TeardownError) Unwrap() error {
	return e.Err
}
