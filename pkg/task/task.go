/*
 *  Copyright (c) 2023 Juice Technologies, Inc. All Rights Reserved.
 */
package task

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Juice-Labs/session-proxy/pkg/logger"
)

type TaskFn = func(Group) error

type Task interface {
	Run(group Group) error
}

type Group interface {
	Ctx() context.Context
	Cancel()
	Go(name string, task Task)
	GoFn(name string, task TaskFn)
}

type Waiter interface {
	Wait() error
}

// TaskManager runs named tasks under a shared context. The first task to
// fail cancels the context for all of them; Wait returns every failure
// joined together once the context is done and all tasks have returned.
type TaskManager struct {
	ctx    context.Context
	cancel context.CancelFunc

	waitGroup sync.WaitGroup

	errorsMutex sync.Mutex
	errors      []error
}

func NewTaskManager(ctx context.Context) *TaskManager {
	ctx, cancel := context.WithCancel(ctx)

	return &TaskManager{
		ctx:    ctx,
		cancel: cancel,
	}
}

func (group *TaskManager) Ctx() context.Context {
	return group.ctx
}

func (group *TaskManager) Cancel() {
	group.cancel()
}

// Wait blocks until the context is done and every task has returned.
func (group *TaskManager) Wait() error {
	<-group.ctx.Done()
	group.waitGroup.Wait()

	group.errorsMutex.Lock()
	defer group.errorsMutex.Unlock()

	return errors.Join(group.errors...)
}

func (group *TaskManager) Go(name string, task Task) {
	group.GoFn(name, task.Run)
}

func (group *TaskManager) GoFn(name string, task TaskFn) {
	group.waitGroup.Add(1)

	go group.run(name, task)
}

func (group *TaskManager) run(name string, task TaskFn) {
	defer group.waitGroup.Done()

	logger.Debugf("task %s started", name)

	err := task(group)
	if err != nil {
		logger.Debugf("task %s failed: %v", name, err)

		group.errorsMutex.Lock()
		group.errors = append(group.errors, fmt.Errorf("%s: %w", name, err))
		group.errorsMutex.Unlock()

		group.cancel()
		return
	}

	logger.Debugf("task %s finished", name)
}
