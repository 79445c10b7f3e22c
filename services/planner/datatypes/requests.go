// Copyright (C) 2025 Draftforge Labs (eng@draftforge.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

// =============================================================================
// Control Surface DTOs
// =============================================================================

// SystemSpec describes one system of the project to plan.
type SystemSpec struct {
	Name        string   `json:"name" binding:"required"`
	Description string   `json:"description"`
	Modules     []string `json:"modules" binding:"required,min=1"`
}

// BlueprintRequest is the input of the blueprint workflow.
type BlueprintRequest struct {
	ProjectName string       `json:"project_name" binding:"required"`
	Description string       `json:"description" binding:"required"`
	Systems     []SystemSpec `json:"systems" binding:"required,min=1,dive"`
}

// ModuleSpec describes one module to generate in a batch run.
type ModuleSpec struct {
	System string `json:"system" binding:"required"`
	Name   string `json:"name" binding:"required"`
	Brief  string `json:"brief"`
}

// ModuleBatchRequest is the input of the module_batch workflow.
type ModuleBatchRequest struct {
	ProjectName string       `json:"project_name" binding:"required"`
	Modules     []ModuleSpec `json:"modules" binding:"required,min=1,dive"`
}

// PauseRequest records why a caller paused a run.
type PauseRequest struct {
	Reason string `json:"reason"`
}

// StatusResponse reports the stored disposition of a job, observable
// independently of the live event stream.
type StatusResponse struct {
	JobID         string       `json:"job_id"`
	Workflow      WorkflowType `json:"workflow"`
	HasCheckpoint bool         `json:"has_checkpoint"`
	HasPaused     bool         `json:"has_paused"`
	Phase         Phase        `json:"phase,omitempty"`
	Status        JobStatus    `json:"status,omitempty"`
	Percent       int          `json:"percent"`
	Message       string       `json:"message,omitempty"`
}

// BlueprintResult is the aggregate payload of the terminal complete
// event of a blueprint run.
type BlueprintResult struct {
	ProjectName      string        `json:"project_name"`
	Requirements     string        `json:"requirements"`
	Structure        string        `json:"structure"`
	StructureScore   QualityScore  `json:"structure_score"`
	RefinementRounds int           `json:"refinement_rounds"`
	Modules          FanOutSummary `json:"modules"`
	Document         string        `json:"document"`
	Success          bool          `json:"success"`
}
