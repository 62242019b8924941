package model

// Step names one state of the portal login sequence.
type Step string

// Login steps, in the order they run.
const (
	StepNavigateLogin    Step = "navigate_login"
	StepEnterIdentifier  Step = "enter_identifier"
	StepSubmitIdentifier Step = "submit_identifier"
	StepEnterSecret      Step = "enter_secret"
	StepSubmitSecret     Step = "submit_secret"
	StepExtractName      Step = "extract_name"
)

// Steps lists every login step in order.
var Steps = []Step{
	StepNavigateLogin,
	StepEnterIdentifier,
	StepSubmitIdentifier,
	StepEnterSecret,
	StepSubmitSecret,
	StepExtractName,
}

// Outcome is the terminal state of one login attempt: either a resolved
// display name, or the step that failed and why.
type Outcome struct {
	Name  string
	Step  Step
	Cause string

	// Fatal is set when the session can no longer be used, so the row
	// failure must end the whole batch.
	Fatal error
}

// Resolved reports whether the attempt produced a name.
func (o Outcome) Resolved() bool {
	return o.Name != "" && o.Cause == "" && o.Fatal == nil
}

// Result converts the outcome into the row's result.
func (o Outcome) Result(clientRef string) RowResult {
	if o.Resolved() {
		return Resolved(clientRef, o.Name)
	}
	return Failed(clientRef, o.Cause)
}
