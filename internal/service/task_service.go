package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"taskflow/internal/cache"
	apperrors "taskflow/internal/errors"
	"taskflow/internal/model"
	"taskflow/internal/repository"
)

const (
	taskListCacheKey = "tasks:all"
	taskCacheTTL     = 5 * time.Minute
)

// TaskUpdate is a partial merge onto a task. Nil fields are left untouched.
// There is no per-role field whitelist: an assignee may change any field,
// including reassigning the task.
type TaskUpdate struct {
	Title       *string
	Description *string
	Status      *string
	AssignedTo  *uuid.UUID
}

// TaskService handles task CRUD under the role/assignee access policy.
// Admin-only gating of create and delete happens at the route policy table;
// the assignee rule on update lives here because it needs the record.
type TaskService interface {
	CreateTask(ctx context.Context, caller *model.User, title, description string, assignedTo uuid.UUID) (*model.Task, error)
	ListTasks(ctx context.Context) ([]model.Task, error)
	GetTask(ctx context.Context, id uuid.UUID) (*model.Task, error)
	UpdateTask(ctx context.Context, caller *model.User, id uuid.UUID, patch TaskUpdate) (*model.Task, error)
	DeleteTask(ctx context.Context, id uuid.UUID) error
}

type taskService struct {
	tasks repository.TaskRepository
	cache *cache.Client
}

// NewTaskService builds a TaskService.
func NewTaskService(tasks repository.TaskRepository, cache *cache.Client) TaskService {
	return &taskService{tasks: tasks, cache: cache}
}

func taskCacheKey(id uuid.UUID) string {
	return fmt.Sprintf("task:%s", id)
}

func (s *taskService) CreateTask(ctx context.Context, caller *model.User, title, description string, assignedTo uuid.UUID) (*model.Task, error) {
	if title == "" || description == "" || assignedTo == uuid.Nil {
		return nil, apperrors.ErrMissingFields
	}

	task := &model.Task{
		Title:        title,
		Description:  description,
		AssignedToID: assignedTo,
		CreatedByID:  caller.ID,
		Status:       model.StatusPending,
	}
	if err := s.tasks.Create(ctx, task); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}

	s.cache.Delete(ctx, taskListCacheKey)
	return task, nil
}

func (s *taskService) ListTasks(ctx context.Context) ([]model.Task, error) {
	var cached []model.Task
	if s.cache.GetJSON(ctx, taskListCacheKey, &cached) {
		return cached, nil
	}

	tasks, err := s.tasks.List(ctx)
	if err != nil {
		return nil, err
	}
	s.cache.SetJSON(ctx, taskListCacheKey, tasks, taskCacheTTL)
	return tasks, nil
}

func (s *taskService) GetTask(ctx context.Context, id uuid.UUID) (*model.Task, error) {
	var cached model.Task
	if s.cache.GetJSON(ctx, taskCacheKey(id), &cached) {
		return &cached, nil
	}

	task, err := s.tasks.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrTaskNotFound
		}
		return nil, err
	}

	s.cache.SetJSON(ctx, taskCacheKey(id), task, taskCacheTTL)
	return task, nil
}

// UpdateTask applies a partial merge. A caller with the user role must be the
// task's assignee; admins are unrestricted.
func (s *taskService) UpdateTask(ctx context.Context, caller *model.User, id uuid.UUID, patch TaskUpdate) (*model.Task, error) {
	task, err := s.tasks.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrTaskNotFound
		}
		return nil, err
	}

	if !caller.IsAdmin() && caller.ID != task.AssignedToID {
		return nil, apperrors.ErrForbidden
	}

	if patch.Title != nil {
		task.Title = *patch.Title
	}
	if patch.Description != nil {
		task.Description = *patch.Description
	}
	if patch.Status != nil {
		if !model.ValidStatus(*patch.Status) {
			return nil, apperrors.ErrInvalidStatus
		}
		task.Status = *patch.Status
	}
	if patch.AssignedTo != nil {
		task.AssignedToID = *patch.AssignedTo
		task.AssignedTo = nil // stale relation, reloaded below
	}

	if err := s.tasks.Update(ctx, task); err != nil {
		return nil, fmt.Errorf("update task: %w", err)
	}
	s.cache.Delete(ctx, taskListCacheKey, taskCacheKey(id))

	// Reload so the response carries the current assignee expansion.
	return s.tasks.FindByID(ctx, id)
}

func (s *taskService) DeleteTask(ctx context.Context, id uuid.UUID) error {
	if _, err := s.tasks.FindByID(ctx, id); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperrors.ErrTaskNotFound
		}
		return err
	}

	if err := s.tasks.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	s.cache.Delete(ctx, taskListCacheKey, taskCacheKey(id))
	return nil
}
