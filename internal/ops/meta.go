// Package ops implements the closed set of operation handlers dispatched
// by the task engine. Each handler decodes the task's opaque JSON
// metadata into a typed, operation-specific shape; metadata stays an
// opaque string everywhere else, so only the handler that owns an
// operation knows its accepted fields.
package ops

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mitchellh/mapstructure"

	"github.com/Makr91/zoneweaver-api-sub001/internal/cmdrunner"
	"github.com/Makr91/zoneweaver-api-sub001/internal/store"
	"github.com/Makr91/zoneweaver-api-sub001/internal/task"
)

// decode unmarshals a task's opaque metadata JSON into a generic map and
// then mapstructure-decodes that map into dst. Going through
// mapstructure (WeaklyTypedInput) rather than a direct json.Unmarshal
// lets handlers accept metadata produced by looser callers -- a
// caller-supplied "force": "true" or a numeric string port -- without
// every handler hand-rolling coercion.
func decode(metadata string, dst interface{}) error {
	if metadata == "" {
		return fmt.Errorf("empty task metadata")
	}

	var raw map[string]interface{}
	if err := json.Unmarshal([]byte(metadata), &raw); err != nil {
		return fmt.Errorf("decoding task metadata: %w", err)
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		TagName:          "json",
		Result:           dst,
	})
	if err != nil {
		return fmt.Errorf("building metadata decoder: %w", err)
	}
	if err := dec.Decode(raw); err != nil {
		return fmt.Errorf("decoding task metadata: %w", err)
	}
	return nil
}

// runShell runs a privileged command (prefixed with pfexec; the command
// runner itself is privilege-agnostic) and translates the
// cmdrunner.Result into a HandlerResult. ctx carries the task's deadline
// through to the spawned process.
func runShell(ctx context.Context, cmdLine string, successMsg string) task.HandlerResult {
	res := cmdrunner.Run(ctx, "pfexec "+cmdLine)
	if !res.Success {
		if res.Error != "" {
			return task.HandlerResult{Success: false, Error: fmt.Sprintf("%s: %s", cmdLine, res.Error)}
		}
		return task.HandlerResult{Success: false, Error: fmt.Sprintf("%s: %s", cmdLine, res.Stderr)}
	}
	return task.HandlerResult{Success: true, Message: successMsg}
}

// Registry returns every operation code mapped to its handler. The set
// is closed: an unknown operation fails at dispatch rather than falling
// through to some default.
func Registry() map[string]task.Handler {
	r := map[string]task.Handler{}

	for k, v := range zoneHandlers() {
		r[k] = v
	}
	for k, v := range zpoolHandlers() {
		r[k] = v
	}
	for k, v := range zfsHandlers() {
		r[k] = v
	}
	for k, v := range networkHandlers() {
		r[k] = v
	}
	for k, v := range miscHandlers() {
		r[k] = v
	}

	return r
}

// TaskRunner is the narrow slice of *task.Engine handlers need in order
// to enqueue dependent sub-tasks (e.g. zone_setup's rollback chain).
type TaskRunner interface {
	Enqueue(zoneName, operation, createdBy string, priority store.Priority, dependsOn, metadata string) (id string, alreadyQueued bool, err error)
}
