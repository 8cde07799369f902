// Package recipe drives a zone's shared PTY (internal/ptymux) through a
// Recipe's ordered steps, substituting `{{name}}` variables and
// accumulating output/errors/log the way a scripted console session
// would.
package recipe

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/Makr91/zoneweaver-api-sub001/internal/minilog"
	"github.com/Makr91/zoneweaver-api-sub001/internal/ptymux"
	"github.com/Makr91/zoneweaver-api-sub001/internal/store"
)

// Result is execute()'s return contract.
type Result struct {
	Success bool
	Output  []string
	Errors  []string
	Log     []string
}

// StepResult is what every step implementation returns internally.
type StepResult struct {
	Success bool
	Output  string
	Error   string
}

var placeholderRe = regexp.MustCompile(`\{\{([a-zA-Z0-9_]+)\}\}`)

// resolveVariables merges recipe.variables, caller variables, and the
// {login_prompt, shell_prompt, boot_string} triple; later sources win.
func resolveVariables(r store.Recipe, callerVars map[string]string) map[string]string {
	merged := map[string]string{}
	for k, v := range r.Variables {
		merged[k] = v
	}
	for k, v := range callerVars {
		merged[k] = v
	}
	merged["login_prompt"] = r.LoginPrompt
	merged["shell_prompt"] = r.ShellPrompt
	merged["boot_string"] = r.BootString
	return merged
}

// substitute replaces every `{{name}}` with its resolved value; unknown
// placeholders are left literally.
func substitute(s string, vars map[string]string) string {
	return placeholderRe.ReplaceAllStringFunc(s, func(match string) string {
		name := placeholderRe.FindStringSubmatch(match)[1]
		if v, ok := vars[name]; ok {
			return v
		}
		return match
	})
}

// UnresolvedPlaceholders reports every `{{name}}` left unresolved after
// substitution against vars, used by the recipe dry-run endpoint.
func UnresolvedPlaceholders(r store.Recipe, callerVars map[string]string) []string {
	vars := resolveVariables(r, callerVars)
	var unresolved []string
	seen := map[string]bool{}

	for _, step := range r.Steps {
		for _, field := range []string{step.Value, step.Pattern, step.Content, step.Dest, step.ExpectPrompt} {
			for _, m := range placeholderRe.FindAllStringSubmatch(field, -1) {
				name := m[1]
				if _, ok := vars[name]; !ok && !seen[name] {
					seen[name] = true
					unresolved = append(unresolved, name)
				}
			}
		}
	}
	return unresolved
}

// Interpreter executes recipes against zone PTYs obtained from a Mux.
type Interpreter struct {
	mux *ptymux.Mux
	// globalTimeout caps every recipe's deadline regardless of the
	// recipe's own timeout_seconds.
	globalTimeout time.Duration
}

// New builds an Interpreter bound to mux, capping every execution at
// globalTimeout.
func New(mux *ptymux.Mux, globalTimeout time.Duration) *Interpreter {
	if globalTimeout <= 0 {
		globalTimeout = 30 * time.Minute
	}
	return &Interpreter{mux: mux, globalTimeout: globalTimeout}
}

// Execute runs recipe against zoneName's PTY: boot-string wait first if
// configured, then each step in order, stopping at the first failure.
// The PTY is always left alive for interactive viewers, with automation
// marked inactive.
func (ip *Interpreter) Execute(zoneName string, r store.Recipe, callerVars map[string]string) Result {
	vars := resolveVariables(r, callerVars)

	recipeTimeout := time.Duration(r.TimeoutSeconds) * time.Second
	if recipeTimeout <= 0 || recipeTimeout > ip.globalTimeout {
		recipeTimeout = ip.globalTimeout
	}
	deadline := time.Now().Add(recipeTimeout)

	result := Result{Success: true}
	logf := func(format string, a ...interface{}) {
		line := fmt.Sprintf(format, a...)
		result.Log = append(result.Log, line)
		minilog.Debug("recipe[%s]: %s", zoneName, line)
	}

	defer func() {
		if err := ip.mux.SetAutomationActive(zoneName, false); err != nil {
			minilog.Warn("recipe[%s]: clearing automation_active: %v", zoneName, err)
		}
	}()

	if err := ip.mux.SetAutomationActive(zoneName, true); err != nil {
		result.Success = false
		result.Errors = append(result.Errors, err.Error())
		return result
	}

	if r.BootString != "" {
		logf("waiting for boot string")
		if _, err := ip.mux.WaitForPattern(zoneName, r.BootString, false, recipeTimeout, deadline); err != nil {
			result.Success = false
			result.Errors = append(result.Errors, err.Error())
			return result
		}
		if err := ip.mux.Write(zoneName, []byte("\r\n")); err != nil {
			result.Success = false
			result.Errors = append(result.Errors, err.Error())
			return result
		}
		time.Sleep(1 * time.Second)
	}

	for i, step := range r.Steps {
		logf("step %d: %s", i, step.Type)

		sr := ip.runStep(zoneName, step, vars, deadline)
		if sr.Output != "" {
			result.Output = append(result.Output, sr.Output)
		}
		if !sr.Success {
			result.Success = false
			result.Errors = append(result.Errors, sr.Error)
			break
		}
	}

	return result
}

func (ip *Interpreter) runStep(zoneName string, step store.RecipeStep, vars map[string]string, globalDeadline time.Time) StepResult {
	timeout := time.Duration(step.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	switch step.Type {
	case "wait":
		pattern := substitute(step.Pattern, vars)
		matched, err := ip.mux.WaitForPattern(zoneName, pattern, false, timeout, globalDeadline)
		if err != nil {
			return StepResult{Success: false, Error: err.Error()}
		}
		return StepResult{Success: true, Output: matched}

	case "send":
		value := substitute(step.Value, vars)
		if err := ip.mux.Write(zoneName, []byte(value)); err != nil {
			return StepResult{Success: false, Error: err.Error()}
		}
		return StepResult{Success: true}

	case "command":
		return ip.runCommandStep(zoneName, step, vars, globalDeadline, timeout)

	case "template":
		return ip.runTemplateStep(zoneName, step, vars, globalDeadline)

	case "delay":
		time.Sleep(time.Duration(step.DelaySeconds) * time.Second)
		return StepResult{Success: true}

	default:
		return StepResult{Success: false, Error: fmt.Sprintf("unknown step type %q", step.Type)}
	}
}

// runCommandStep clears the buffer, emits `<cmd>; echo "ZWEC_<ts>:$?"`
// then CRLF, waits for the exit-code marker, parses the trailing
// integer, and (unless check_exit_code is off) requires it be 0.
func (ip *Interpreter) runCommandStep(zoneName string, step store.RecipeStep, vars map[string]string, globalDeadline time.Time, timeout time.Duration) StepResult {
	if err := ip.mux.ClearBuffer(zoneName); err != nil {
		return StepResult{Success: false, Error: err.Error()}
	}

	value := substitute(step.Value, vars)
	marker := fmt.Sprintf("ZWEC_%d", time.Now().UnixNano())
	cmdLine := fmt.Sprintf(`%s; echo "%s:$?"`, value, marker)

	if err := ip.mux.Write(zoneName, []byte(cmdLine+"\r\n")); err != nil {
		return StepResult{Success: false, Error: err.Error()}
	}

	markerRe := regexp.MustCompile(regexp.QuoteMeta(marker) + `:(\d+)`)
	matched, err := ip.mux.WaitForPattern(zoneName, markerRe.String(), true, timeout, globalDeadline)
	if err != nil {
		return StepResult{Success: false, Error: err.Error()}
	}

	sub := markerRe.FindStringSubmatch(matched)
	exitCode := -1
	if len(sub) == 2 {
		exitCode, _ = strconv.Atoi(sub[1])
	}

	checkExit := step.CheckExitCode == nil || *step.CheckExitCode
	if checkExit && exitCode != 0 {
		return StepResult{Success: false, Error: fmt.Sprintf("command %q exited %d", value, exitCode), Output: matched}
	}

	output := fmt.Sprintf("Command executed (exit %d): %s", exitCode, value)

	expectPrompt := step.ExpectPrompt
	if expectPrompt == "" {
		expectPrompt = "{{shell_prompt}}"
	}
	expectPrompt = substitute(expectPrompt, vars)
	if expectPrompt != "" {
		if _, err := ip.mux.WaitForPattern(zoneName, expectPrompt, false, 5*time.Second, globalDeadline); err != nil {
			return StepResult{Success: false, Error: err.Error()}
		}
	}

	return StepResult{Success: true, Output: output}
}

// runTemplateStep writes dest inside the zone via either echo_redirect
// (line-by-line with shell-quoting) or a heredoc.
func (ip *Interpreter) runTemplateStep(zoneName string, step store.RecipeStep, vars map[string]string, globalDeadline time.Time) StepResult {
	dest := substitute(step.Dest, vars)
	content := substitute(step.Content, vars)

	switch step.Method {
	case "heredoc":
		marker := fmt.Sprintf("ZWEOD_%d", time.Now().UnixNano())
		cmd := fmt.Sprintf("cat > %s << '%s'\r\n%s\r\n%s\r\n", dest, marker, content, marker)
		if err := ip.mux.Write(zoneName, []byte(cmd)); err != nil {
			return StepResult{Success: false, Error: err.Error()}
		}

	default: // echo_redirect
		lines := strings.Split(content, "\n")
		for i, line := range lines {
			op := ">>"
			if i == 0 {
				op = ">"
			}
			quoted := "'" + strings.ReplaceAll(line, "'", `'\''`) + "'"
			cmd := fmt.Sprintf("echo %s %s %s\r\n", quoted, op, dest)
			if err := ip.mux.Write(zoneName, []byte(cmd)); err != nil {
				return StepResult{Success: false, Error: err.Error()}
			}
			time.Sleep(200 * time.Millisecond)
		}
	}

	expectPrompt := substitute(step.ExpectPrompt, vars)
	if expectPrompt == "" {
		expectPrompt = vars["shell_prompt"]
	}
	if expectPrompt != "" {
		if _, err := ip.mux.WaitForPattern(zoneName, expectPrompt, false, 5*time.Second, globalDeadline); err != nil {
			return StepResult{Success: false, Error: err.Error()}
		}
	}

	return StepResult{Success: true}
}
