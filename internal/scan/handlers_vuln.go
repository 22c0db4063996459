package scan

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/surfacehq/surface/internal/store"
)

// --- nuclei ---

// nucleiFinding is one line of nuclei's JSONL output.
type nucleiFinding struct {
	TemplateID string `json:"template-id"`
	Info       struct {
		Name     string `json:"name"`
		Severity string `json:"severity"`
	} `json:"info"`
	MatchedAt string `json:"matched-at"`
	Host      string `json:"host"`
}

func (r *Runner) runNucleiScan(ctx context.Context, task *store.ScanTask) (store.JSONMap, error) {
	targets := configTargets(task.Config)
	if len(targets) == 0 {
		assets, err := r.store.ListWebAssets(ctx, task.ProjectID, 500, 0)
		if err != nil {
			return nil, err
		}
		for _, a := range assets {
			targets = append(targets, a.URL)
		}
	}
	if len(targets) == 0 {
		return store.JSONMap{"targets": 0, "findings": 0}, nil
	}

	severity, _ := task.Config["severity"].(string)
	if err := ValidateNucleiSeverities(severity); err != nil {
		return nil, err
	}
	templates, _ := task.Config["templates"].(string)
	if templates != "" {
		for _, t := range strings.Split(templates, ",") {
			if err := ValidateTemplatePath(strings.TrimSpace(t)); err != nil {
				return nil, err
			}
		}
	}

	findings := 0
	for i, target := range targets {
		args := []string{"-u", target, "-jsonl", "-silent"}
		if severity != "" {
			args = append(args, "-severity", severity)
		}
		if templates != "" {
			args = append(args, "-t", templates)
		}
		out, err := runTool(ctx, nucleiTimeout, "nuclei", args...)
		if err != nil {
			if isToolMissing(err) {
				return store.JSONMap{"targets": len(targets), "findings": findings, "tool_missing": "nuclei"}, nil
			}
			return nil, err
		}

		for _, line := range strings.Split(out, "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			var f nucleiFinding
			if err := json.Unmarshal([]byte(line), &f); err != nil {
				continue
			}
			targetURL := f.MatchedAt
			if targetURL == "" {
				targetURL = target
			}
			if err := r.recordVulnerability(ctx, &store.Vulnerability{
				ProjectID:  task.ProjectID,
				TargetURL:  targetURL,
				TargetType: "web_asset",
				TemplateID: f.TemplateID,
				Name:       f.Info.Name,
				Severity:   strings.ToLower(f.Info.Severity),
				Details:    store.JSONMap{"host": f.Host},
				Source:     "nuclei",
			}); err != nil {
				return nil, err
			}
			findings++
		}
		if err := r.store.UpdateScanTaskProgress(ctx, task.ID, i+1, len(targets)); err != nil {
			r.logger.Printf("task %s progress update failed: %v", task.ID, err)
		}
	}
	return store.JSONMap{"targets": len(targets), "findings": findings}, nil
}

// --- xray ---

// xrayFinding is the subset of an xray JSON result entry the runner keeps.
type xrayFinding struct {
	Plugin string `json:"plugin"`
	Detail struct {
		Addr string `json:"addr"`
	} `json:"detail"`
}

func (r *Runner) runXrayScan(ctx context.Context, task *store.ScanTask) (store.JSONMap, error) {
	targets := configTargets(task.Config)
	if len(targets) == 0 {
		return nil, fmt.Errorf("xray_scan requires explicit targets")
	}

	plugins, _ := task.Config["plugins"].(string)
	if err := ValidateXrayPlugins(plugins); err != nil {
		return nil, err
	}

	findings := 0
	for i, target := range targets {
		args := []string{"webscan", "--url", target, "--json-output", "/dev/stdout"}
		if plugins != "" {
			args = append(args, "--plugins", plugins)
		}
		out, err := runTool(ctx, xrayTimeout, "xray", args...)
		if err != nil {
			if isToolMissing(err) {
				return store.JSONMap{"targets": len(targets), "findings": findings, "tool_missing": "xray"}, nil
			}
			return nil, err
		}

		var results []xrayFinding
		if jerr := json.Unmarshal([]byte(out), &results); jerr != nil {
			r.logger.Printf("task %s unparseable xray output for %s", task.ID, target)
			continue
		}
		for _, f := range results {
			targetURL := f.Detail.Addr
			if targetURL == "" {
				targetURL = target
			}
			if err := r.recordVulnerability(ctx, &store.Vulnerability{
				ProjectID:  task.ProjectID,
				TargetURL:  targetURL,
				TargetType: "web_asset",
				TemplateID: "xray:" + f.Plugin,
				Name:       f.Plugin,
				Severity:   "medium",
				Details:    store.JSONMap{"plugin": f.Plugin},
				Source:     "xray",
			}); err != nil {
				return nil, err
			}
			findings++
		}
		if err := r.store.UpdateScanTaskProgress(ctx, task.ID, i+1, len(targets)); err != nil {
			r.logger.Printf("task %s progress update failed: %v", task.ID, err)
		}
	}
	return store.JSONMap{"targets": len(targets), "findings": findings}, nil
}
