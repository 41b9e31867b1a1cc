package controllers

import (
	"github.com/datallboy/mediafetch/internal/engine"
	"github.com/datallboy/mediafetch/internal/fetch"
)

func jobResponse(v engine.JobView) JobResponse {
	resp := JobResponse{
		ID:         v.ID,
		URL:        v.URL,
		Name:       v.Name,
		Kind:       string(v.Kind),
		Status:     string(v.Status),
		BytesDone:  v.BytesDone,
		TotalBytes: v.TotalBytes,
		Percent:    fetch.Percent(v.BytesDone, v.TotalBytes),
		Strategy:   v.Strategy,
		OutputPath: v.OutputPath,
		Error:      v.Error,
		Attempts:   v.Attempts,
		CreatedAt:  v.CreatedAt,
	}
	if !v.FinishedAt.IsZero() {
		finished := v.FinishedAt
		resp.FinishedAt = &finished
	}
	return resp
}

func jobResponses(views []engine.JobView) []JobResponse {
	out := make([]JobResponse, 0, len(views))
	for _, v := range views {
		out = append(out, jobResponse(v))
	}
	return out
}
