// Package schedule submits registered actions on cron or interval triggers.
//
// The scheduler only triggers. Each tick builds a fresh action from its factory
// and hands it to a Submitter (the guidance façade); execution, priority and
// cancellation are the engine's business.
package schedule
