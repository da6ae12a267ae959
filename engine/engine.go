package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	workflow "github.com/objectql/objectos-workflow"
)

// Engine drives workflow instances through their definitions: it creates
// and starts instances, fires guarded transitions, runs entry and exit
// actions, and persists every change through the Store with optimistic
// revision checks.
//
// A fire call is synchronous per instance: actions run sequentially and the
// call returns only after the change (or the failure) is persisted.
// Operations on different instances are independent; hosts that may race
// two operations on the same instance id serialize them or retry on
// ErrConcurrentModification.
type Engine struct {
	defs          *workflow.Registry
	store         Store
	actions       *ActionRegistry
	guards        *GuardRegistry
	logger        Logger
	hooks         Hooks
	mailer        Mailer
	webhook       WebhookDoer
	actionTimeout time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger Logger) Option {
	return func(e *Engine) {
		e.logger = normalizeLogger(logger)
	}
}

// WithHooks appends lifecycle hooks notified after each persisted change.
func WithHooks(hooks ...Hook) Option {
	return func(e *Engine) {
		e.hooks = append(e.hooks, hooks...)
	}
}

// WithActionTimeout bounds each action invocation. Zero (the default)
// means no bound; timed-out actions surface as ActionTimeout failures.
func WithActionTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.actionTimeout = d
	}
}

// WithMailer injects the transport used by the standard sendEmail action.
func WithMailer(m Mailer) Option {
	return func(e *Engine) {
		e.mailer = m
	}
}

// WithWebhookDoer injects the client used by the standard webhook action.
func WithWebhookDoer(d WebhookDoer) Option {
	return func(e *Engine) {
		e.webhook = d
	}
}

// New assembles an engine. Nil collaborators get defaults: a fresh
// definition registry, the in-memory store, and action/guard registries
// pre-seeded with the standard library.
func New(defs *workflow.Registry, store Store, actions *ActionRegistry, guards *GuardRegistry, opts ...Option) (*Engine, error) {
	e := &Engine{
		defs:    defs,
		store:   store,
		actions: actions,
		guards:  guards,
		logger:  NewFmtLogger(nil),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	if e.defs == nil {
		e.defs = workflow.NewRegistry()
	}
	if e.store == nil {
		e.store = NewMemoryStore()
	}
	if e.mailer == nil {
		e.mailer = LogMailer{Logger: e.logger}
	}
	if e.webhook == nil {
		e.webhook = LogWebhook{Logger: e.logger}
	}
	if e.actions == nil {
		e.actions = NewActionRegistry()
		if err := RegisterStandardActions(e.actions, e.mailer, e.webhook); err != nil {
			return nil, err
		}
	}
	if e.guards == nil {
		e.guards = NewGuardRegistry()
		if err := RegisterStandardGuards(e.guards); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// RegisterWorkflow validates def and adds it to the engine's definition
// registry.
func (e *Engine) RegisterWorkflow(def *workflow.Definition) error {
	return e.defs.Register(def)
}

// Definitions exposes the definition registry.
func (e *Engine) Definitions() *workflow.Registry { return e.defs }

// Actions exposes the action registry for host extensions.
func (e *Engine) Actions() *ActionRegistry { return e.actions }

// Guards exposes the guard registry for host extensions.
func (e *Engine) Guards() *GuardRegistry { return e.guards }

// CreateRequest describes a new instance. Version 0 selects the latest
// registered version of the workflow.
type CreateRequest struct {
	WorkflowID string
	Version    int
	Seed       map[string]any
	StartedBy  string
}

// CreateInstance allocates and persists an instance in created status at
// the definition's initial state, with data seeded from the request.
func (e *Engine) CreateInstance(ctx context.Context, req CreateRequest) (*Instance, error) {
	workflowID := strings.TrimSpace(req.WorkflowID)
	if workflowID == "" {
		return nil, cloneRuntimeError(ErrPreconditionFailed, "workflow id is required", nil, nil)
	}

	var def *workflow.Definition
	var ok bool
	if req.Version > 0 {
		def, ok = e.defs.Get(workflowID, req.Version)
	} else {
		def, ok = e.defs.Latest(workflowID)
	}
	if !ok {
		return nil, cloneRuntimeError(
			ErrUnknownWorkflow,
			fmt.Sprintf("workflow %s is not registered", workflowID),
			nil,
			map[string]any{"workflow_id": workflowID, "version": req.Version},
		)
	}

	now := time.Now().UTC()
	inst := &Instance{
		ID:              uuid.NewString(),
		WorkflowID:      def.ID,
		WorkflowVersion: def.Version,
		CurrentState:    def.InitialState,
		Status:          StatusCreated,
		Data:            deepCopyMap(req.Seed),
		StartedBy:       req.StartedBy,
		CreatedAt:       now,
	}

	fields := e.instanceFields(inst)
	logger := withLoggerFields(e.logger.WithContext(ctx), fields)
	if err := e.store.SaveInstance(ctx, inst); err != nil {
		logger.Error("persist new instance failed: %v", err)
		return nil, e.mapStoreError(err, fields)
	}
	logger.Debug("instance created")
	e.emitEvent(ctx, EventCreated, inst, "", "", "", "")
	return inst, nil
}

// StartInstance moves a created instance to running, sets startedAt, and
// executes the initial state's onEnter actions in declared order. If any
// action fails the instance is marked failed with startedAt retained, and
// the action error is returned.
func (e *Engine) StartInstance(ctx context.Context, id string) (*Instance, error) {
	inst, err := e.loadInstance(ctx, id)
	if err != nil {
		return nil, err
	}
	fields := e.instanceFields(inst)
	logger := withLoggerFields(e.logger.WithContext(ctx), fields)

	if inst.Terminal() {
		return nil, e.terminatedError(inst, fields)
	}
	if inst.Status != StatusCreated {
		return nil, cloneRuntimeError(
			ErrPreconditionFailed,
			fmt.Sprintf("instance %s already started", inst.ID),
			nil,
			fields,
		)
	}
	def, err := e.definitionFor(inst, fields)
	if err != nil {
		return nil, err
	}
	state, ok := def.State(inst.CurrentState)
	if !ok {
		return nil, cloneRuntimeError(
			ErrPreconditionFailed,
			fmt.Sprintf("state %s is not declared by workflow %s", inst.CurrentState, def.ID),
			nil,
			fields,
		)
	}

	expectedRevision := inst.Revision
	now := time.Now().UTC()
	inst.Status = StatusRunning
	inst.StartedAt = &now

	run := newRun(inst, logger)
	if err := e.runActions(ctx, def, run, state.OnEnter, "onEnter", fields); err != nil {
		return nil, e.failInstance(ctx, inst, expectedRevision, err, logger)
	}
	tasks := run.commit()

	newRevision, err := e.store.UpdateInstance(ctx, inst, expectedRevision)
	if err != nil {
		logger.Error("persist started instance failed: %v", err)
		return nil, e.mapStoreError(err, fields)
	}
	inst.Revision = newRevision

	if err := e.saveTasks(ctx, tasks, logger); err != nil {
		return inst, err
	}
	logger.Info("instance started")
	e.emitEvent(ctx, EventStarted, inst, "", "", "", "")
	return inst, nil
}

// FireTransition fires a named transition on a running instance. All guards
// must pass (they are ANDed); a rejection fails with GuardRejected and
// leaves the instance unchanged. On success the current state's onExit
// actions run, currentState moves to the target, the target's onEnter
// actions run, a history entry is appended, and a final target completes
// the instance. An action failure marks the instance failed with the prior
// currentState retained: a transition either fully happens or the instance
// fails, it is never half-moved.
func (e *Engine) FireTransition(ctx context.Context, id, transition string) (*Instance, error) {
	inst, _, err := e.fire(ctx, id, transition, true)
	return inst, err
}

// TryFireTransition is FireTransition for auto-attempted moves: a guard
// rejection is not an error, it reports fired=false with the instance left
// in place. Every other failure behaves exactly like FireTransition.
func (e *Engine) TryFireTransition(ctx context.Context, id, transition string) (*Instance, bool, error) {
	return e.fire(ctx, id, transition, false)
}

func (e *Engine) fire(ctx context.Context, id, transition string, explicit bool) (*Instance, bool, error) {
	transition = strings.TrimSpace(transition)
	if transition == "" {
		return nil, false, cloneRuntimeError(ErrPreconditionFailed, "transition name is required", nil, nil)
	}
	inst, err := e.loadInstance(ctx, id)
	if err != nil {
		return nil, false, err
	}

	fields := e.instanceFields(inst)
	fields["transition"] = transition
	logger := withLoggerFields(e.logger.WithContext(ctx), fields)
	logger.Debug("transition requested")

	if inst.Terminal() {
		return nil, false, e.terminatedError(inst, fields)
	}
	if inst.Status != StatusRunning {
		return nil, false, cloneRuntimeError(
			ErrPreconditionFailed,
			fmt.Sprintf("instance %s is not running", inst.ID),
			nil,
			fields,
		)
	}
	def, err := e.definitionFor(inst, fields)
	if err != nil {
		return nil, false, err
	}
	state, ok := def.State(inst.CurrentState)
	if !ok {
		return nil, false, cloneRuntimeError(
			ErrPreconditionFailed,
			fmt.Sprintf("state %s is not declared by workflow %s", inst.CurrentState, def.ID),
			nil,
			fields,
		)
	}
	spec, ok := state.Transitions[transition]
	if !ok {
		return nil, false, cloneRuntimeError(
			ErrUnknownTransition,
			fmt.Sprintf("no transition %s on state %s", transition, inst.CurrentState),
			nil,
			fields,
		)
	}

	expectedRevision := inst.Revision
	run := newRun(inst, logger)

	for _, name := range spec.Guards {
		handler, params, found := e.resolveGuard(def, name)
		if !found {
			return nil, false, cloneRuntimeError(
				ErrUnknownGuard,
				fmt.Sprintf("guard %s is not registered", name),
				nil,
				mergeFields(fields, map[string]any{"guard": name}),
			)
		}
		if !handler.Evaluate(ctx, run, params) {
			if !explicit {
				logger.Debug("guard %s holds instance in %s", name, inst.CurrentState)
				return inst, false, nil
			}
			logger.Warn("guard %s rejected transition", name)
			return nil, false, cloneRuntimeError(
				ErrGuardRejected,
				fmt.Sprintf("guard %s rejected transition %s", name, transition),
				nil,
				mergeFields(fields, map[string]any{"guard": name}),
			)
		}
	}

	if err := e.runActions(ctx, def, run, state.OnExit, "onExit", fields); err != nil {
		return nil, false, e.failInstance(ctx, inst, expectedRevision, err, logger)
	}

	prior := inst.CurrentState
	inst.CurrentState = spec.Target
	target := def.States[spec.Target]
	if err := e.runActions(ctx, def, run, target.OnEnter, "onEnter", fields); err != nil {
		inst.CurrentState = prior
		return nil, false, e.failInstance(ctx, inst, expectedRevision, err, logger)
	}

	now := time.Now().UTC()
	inst.History = append(inst.History, HistoryEntry{
		From:       prior,
		To:         spec.Target,
		Transition: transition,
		At:         now,
	})
	completed := false
	if target.Final {
		inst.Status = StatusCompleted
		inst.CompletedAt = &now
		completed = true
	}
	tasks := run.commit()

	newRevision, err := e.store.UpdateInstance(ctx, inst, expectedRevision)
	if err != nil {
		logger.Error("persist transition failed: %v", err)
		return nil, false, e.mapStoreError(err, fields)
	}
	inst.Revision = newRevision

	if err := e.saveTasks(ctx, tasks, logger); err != nil {
		return inst, true, err
	}
	logger.Info("transition committed to %s", inst.CurrentState)
	e.emitEvent(ctx, EventTransitioned, inst, prior, spec.Target, transition, "")
	if completed {
		e.emitEvent(ctx, EventCompleted, inst, prior, spec.Target, transition, "")
	}
	return inst, true, nil
}

// AbortInstance moves a non-terminal instance to aborted with a synthetic
// history entry carrying the reason. No onExit actions run.
func (e *Engine) AbortInstance(ctx context.Context, id, reason string) (*Instance, error) {
	inst, err := e.loadInstance(ctx, id)
	if err != nil {
		return nil, err
	}
	fields := e.instanceFields(inst)
	logger := withLoggerFields(e.logger.WithContext(ctx), fields)

	if inst.Terminal() {
		return nil, e.terminatedError(inst, fields)
	}

	expectedRevision := inst.Revision
	now := time.Now().UTC()
	inst.Status = StatusAborted
	inst.AbortedAt = &now
	inst.History = append(inst.History, HistoryEntry{
		From:       inst.CurrentState,
		To:         inst.CurrentState,
		Transition: "abort",
		Note:       reason,
		At:         now,
	})

	newRevision, err := e.store.UpdateInstance(ctx, inst, expectedRevision)
	if err != nil {
		logger.Error("persist aborted instance failed: %v", err)
		return nil, e.mapStoreError(err, fields)
	}
	inst.Revision = newRevision
	logger.Info("instance aborted")
	e.emitEvent(ctx, EventAborted, inst, "", "", "abort", reason)
	return inst, nil
}

// GetInstance loads an instance by id.
func (e *Engine) GetInstance(ctx context.Context, id string) (*Instance, error) {
	return e.loadInstance(ctx, id)
}

// QueryInstances lists instances through the store.
func (e *Engine) QueryInstances(ctx context.Context, filter InstanceFilter) ([]*Instance, error) {
	return e.store.QueryInstances(ctx, filter)
}

// InstanceTasks lists the tasks attached to an instance.
func (e *Engine) InstanceTasks(ctx context.Context, instanceID string) ([]*Task, error) {
	return e.store.GetInstanceTasks(ctx, instanceID)
}

// CompleteTask closes an open task. Completing a task twice fails so
// double approvals stay visible.
func (e *Engine) CompleteTask(ctx context.Context, taskID string) (*Task, error) {
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return nil, cloneRuntimeError(ErrPreconditionFailed, "task id is required", nil, nil)
	}
	task, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, cloneRuntimeError(
			ErrTaskNotFound,
			fmt.Sprintf("task %s not found", taskID),
			nil,
			map[string]any{"task_id": taskID},
		)
	}
	if task.Status == TaskCompleted {
		return nil, cloneRuntimeError(
			ErrPreconditionFailed,
			fmt.Sprintf("task %s already completed", taskID),
			nil,
			map[string]any{"task_id": taskID, "instance_id": task.InstanceID},
		)
	}
	now := time.Now().UTC()
	task.Status = TaskCompleted
	task.CompletedAt = &now
	if err := e.store.UpdateTask(ctx, task); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, cloneRuntimeError(ErrTaskNotFound, fmt.Sprintf("task %s not found", taskID), err, nil)
		}
		return nil, err
	}
	return task, nil
}

// TransitionInfo describes one transition available from an instance's
// current state.
type TransitionInfo struct {
	Name   string
	Target string
	Guards []string
	Final  bool
}

// AvailableTransitions lists the transitions declared on the instance's
// current state, sorted by name. Guards are reported, not evaluated.
func (e *Engine) AvailableTransitions(ctx context.Context, id string) ([]TransitionInfo, error) {
	inst, err := e.loadInstance(ctx, id)
	if err != nil {
		return nil, err
	}
	fields := e.instanceFields(inst)
	def, err := e.definitionFor(inst, fields)
	if err != nil {
		return nil, err
	}
	if inst.Terminal() {
		return nil, nil
	}
	state, ok := def.State(inst.CurrentState)
	if !ok {
		return nil, nil
	}
	var out []TransitionInfo
	for _, name := range sortedTransitionNames(state.Transitions) {
		spec := state.Transitions[name]
		out = append(out, TransitionInfo{
			Name:   name,
			Target: spec.Target,
			Guards: append([]string(nil), spec.Guards...),
			Final:  def.States[spec.Target].Final,
		})
	}
	return out, nil
}

func (e *Engine) loadInstance(ctx context.Context, id string) (*Instance, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, cloneRuntimeError(ErrPreconditionFailed, "instance id is required", nil, nil)
	}
	inst, err := e.store.GetInstance(ctx, id)
	if err != nil {
		return nil, err
	}
	if inst == nil {
		return nil, cloneRuntimeError(
			ErrInstanceNotFound,
			fmt.Sprintf("instance %s not found", id),
			nil,
			map[string]any{"instance_id": id},
		)
	}
	return inst, nil
}

func (e *Engine) definitionFor(inst *Instance, fields map[string]any) (*workflow.Definition, error) {
	def, ok := e.defs.Get(inst.WorkflowID, inst.WorkflowVersion)
	if !ok {
		return nil, cloneRuntimeError(
			ErrUnknownWorkflow,
			fmt.Sprintf("workflow %s version %d is not registered", inst.WorkflowID, inst.WorkflowVersion),
			nil,
			fields,
		)
	}
	return def, nil
}

func (e *Engine) resolveGuard(def *workflow.Definition, name string) (GuardHandler, map[string]any, bool) {
	if def != nil {
		if binding, ok := def.Guards[name]; ok {
			handler, found := e.guards.Lookup(binding.Type)
			if !found {
				return nil, nil, false
			}
			return handler, binding.Params, true
		}
		if handler, found := e.guards.Lookup(defaultNamespace(def.ID, name)); found {
			return handler, nil, true
		}
	}
	handler, found := e.guards.Lookup(name)
	return handler, nil, found
}

func (e *Engine) resolveAction(def *workflow.Definition, actionType string) (ActionHandler, bool) {
	if def != nil {
		if handler, found := e.actions.Lookup(defaultNamespace(def.ID, actionType)); found {
			return handler, true
		}
	}
	return e.actions.Lookup(actionType)
}

func (e *Engine) runActions(
	ctx context.Context,
	def *workflow.Definition,
	run *Run,
	invocations []workflow.ActionInvocation,
	phase string,
	fields map[string]any,
) error {
	for _, inv := range invocations {
		meta := mergeFields(fields, map[string]any{"action": inv.Type, "phase": phase})
		handler, ok := e.resolveAction(def, inv.Type)
		if !ok {
			return cloneRuntimeError(
				ErrUnknownAction,
				fmt.Sprintf("action type %s is not registered", inv.Type),
				nil,
				meta,
			)
		}
		if err := e.invokeAction(ctx, handler, run, inv.Params); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return cloneRuntimeError(
					ErrActionTimeout,
					fmt.Sprintf("action %s timed out after %s", inv.Type, e.actionTimeout),
					err,
					meta,
				)
			}
			return cloneRuntimeError(
				ErrActionFailed,
				fmt.Sprintf("action %s failed", inv.Type),
				err,
				meta,
			)
		}
	}
	return nil
}

func (e *Engine) invokeAction(ctx context.Context, handler ActionHandler, run *Run, params map[string]any) error {
	if e.actionTimeout <= 0 {
		return handler.Invoke(ctx, run, params)
	}
	actx, cancel := context.WithTimeout(ctx, e.actionTimeout)
	defer cancel()
	return handler.Invoke(actx, run, params)
}

// failInstance marks the instance failed while keeping its pre-operation
// state and data, persists it, and returns the causing error.
func (e *Engine) failInstance(ctx context.Context, inst *Instance, expectedRevision int, cause error, logger Logger) error {
	now := time.Now().UTC()
	inst.Status = StatusFailed
	inst.FailedAt = &now
	inst.LastError = cause.Error()
	newRevision, err := e.store.UpdateInstance(ctx, inst, expectedRevision)
	if err != nil {
		logger.Error("persist failed instance: %v", err)
	} else {
		inst.Revision = newRevision
	}
	logger.Warn("instance failed: %v", cause)
	e.emitEvent(ctx, EventFailed, inst, "", "", "", cause.Error())
	return cause
}

func (e *Engine) saveTasks(ctx context.Context, tasks []*Task, logger Logger) error {
	for _, task := range tasks {
		if err := e.store.SaveTask(ctx, task); err != nil {
			logger.Error("persist task %s failed: %v", task.ID, err)
			return err
		}
		logger.Debug("task %s assigned to %s", task.Name, task.AssignedTo)
	}
	return nil
}

func (e *Engine) mapStoreError(err error, fields map[string]any) error {
	if errors.Is(err, ErrRevisionConflict) {
		return cloneRuntimeError(ErrConcurrentModification, "", err, fields)
	}
	return err
}

func (e *Engine) terminatedError(inst *Instance, fields map[string]any) error {
	return cloneRuntimeError(
		ErrInstanceTerminated,
		fmt.Sprintf("instance %s is %s", inst.ID, inst.Status),
		nil,
		mergeFields(fields, map[string]any{"status": string(inst.Status)}),
	)
}

func (e *Engine) instanceFields(inst *Instance) map[string]any {
	return map[string]any{
		"workflow_id":      inst.WorkflowID,
		"workflow_version": inst.WorkflowVersion,
		"instance_id":      inst.ID,
		"state":            inst.CurrentState,
	}
}

func (e *Engine) emitEvent(ctx context.Context, evtType EventType, inst *Instance, from, to, transition, errorMessage string) {
	if len(e.hooks) == 0 {
		return
	}
	fanoutHooks(ctx, e.hooks, e.logger, InstanceEvent{
		Type:            evtType,
		WorkflowID:      inst.WorkflowID,
		WorkflowVersion: inst.WorkflowVersion,
		InstanceID:      inst.ID,
		From:            from,
		To:              to,
		Transition:      transition,
		Status:          inst.Status,
		ErrorMessage:    errorMessage,
		OccurredAt:      time.Now().UTC(),
	})
}

func sortedTransitionNames(m map[string]workflow.TransitionSpec) []string {
	if len(m) == 0 {
		return nil
	}
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
