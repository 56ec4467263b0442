package pipeline

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

// Tools locates the external converters and carries their per-stage limits.
// The tools themselves are opaque: the contract is exit code plus the
// presence of the declared outputs.
type Tools struct {
	BlenderPath   string
	WinePath      string
	StudioMDLPath string

	ConvertTimeout  time.Duration
	AssembleTimeout time.Duration
	CompileTimeout  time.Duration

	ConvertWeight  int
	AssembleWeight int
	CompileWeight  int
}

// DefaultStages builds the fixed FBX -> SMD -> QC -> MDL pipeline.
func DefaultStages(t Tools) []Stage {
	return []Stage{
		convertStage(t),
		assembleStage(t),
		compileStage(t),
	}
}

// convertStage exports the FBX scene to SMD with headless blender driven by
// a generated export script.
func convertStage(t Tools) Stage {
	return Stage{
		Name:    "convert",
		Weight:  t.ConvertWeight,
		Timeout: t.ConvertTimeout,
		Prepare: func(ws *Workspace) error {
			return writeExportScript(filepath.Join(ws.Dir, "export_smd.py"))
		},
		Command: func(ws *Workspace) *exec.Cmd {
			return exec.Command(t.BlenderPath,
				"--background",
				"--python", filepath.Join(ws.Dir, "export_smd.py"),
				"--", ws.InputPath, ws.Dir,
			)
		},
		Outputs: func(ws *Workspace) ([]string, error) {
			smds, err := filepath.Glob(filepath.Join(ws.Dir, "*.smd"))
			if err != nil {
				return nil, err
			}
			if len(smds) == 0 {
				return nil, fmt.Errorf("no SMD files were generated")
			}
			ws.SMDFiles = smds
			return smds, nil
		},
	}
}

// assembleStage generates the QC build script the model compiler consumes.
// It runs in-process; QC is plain line-oriented tool input.
func assembleStage(t Tools) Stage {
	return Stage{
		Name:    "assemble",
		Weight:  t.AssembleWeight,
		Timeout: t.AssembleTimeout,
		Run: func(ctx context.Context, ws *Workspace, logf func(string)) error {
			qcPath := filepath.Join(ws.Dir, ws.BaseName+".qc")
			if err := writeQC(qcPath, ws); err != nil {
				return err
			}
			ws.QCPath = qcPath
			logf(fmt.Sprintf("Generated build script %s", filepath.Base(qcPath)))
			return nil
		},
		Outputs: func(ws *Workspace) ([]string, error) {
			if _, err := os.Stat(ws.QCPath); err != nil {
				return nil, fmt.Errorf("build script missing: %w", err)
			}
			return []string{ws.QCPath}, nil
		},
	}
}

// compileStage compiles the MDL with studiomdl through the wine
// compatibility layer, working-directory relative as the tool requires.
func compileStage(t Tools) Stage {
	return Stage{
		Name:    "compile",
		Weight:  t.CompileWeight,
		Timeout: t.CompileTimeout,
		Command: func(ws *Workspace) *exec.Cmd {
			cmd := exec.Command(t.WinePath, t.StudioMDLPath, filepath.Base(ws.QCPath))
			cmd.Env = append(os.Environ(),
				"WINEPATH="+filepath.Dir(t.StudioMDLPath),
			)
			return cmd
		},
		Outputs: func(ws *Workspace) ([]string, error) {
			mdl := filepath.Join(ws.Dir, ws.BaseName+".mdl")
			if _, err := os.Stat(mdl); err != nil {
				return nil, fmt.Errorf("no MDL file was generated")
			}
			outs := []string{mdl}
			// Side files are produced for some models only.
			for _, ext := range []string{".phy", ".vvd", ".vtx"} {
				p := filepath.Join(ws.Dir, ws.BaseName+ext)
				if _, err := os.Stat(p); err == nil {
					outs = append(outs, p)
				}
			}
			return outs, nil
		},
	}
}
