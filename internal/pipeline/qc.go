package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// writeQC emits the QC build script for the model compiler: model name,
// scale, the reference body, and one sequence per animation SMD. The
// format is consumed verbatim by studiomdl.
func writeQC(path string, ws *Workspace) error {
	refSMD, animSMDs := splitSMDs(ws.SMDFiles)
	if refSMD == "" {
		return fmt.Errorf("no reference SMD among exported files")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "$modelname %q\n", ws.BaseName+".mdl")
	b.WriteString("$cd \".\"\n")
	b.WriteString("$cdtexture \".\"\n")
	fmt.Fprintf(&b, "$scale %g\n\n", ws.Options.Scale)

	fmt.Fprintf(&b, "$body %q %q\n\n", ws.Options.BodygroupName, refSMD)

	if len(animSMDs) == 0 {
		fmt.Fprintf(&b, "$sequence \"idle\" %q fps 30\n", refSMD)
	}
	for _, anim := range animSMDs {
		fmt.Fprintf(&b, "$sequence %q %q fps 30\n", sequenceName(anim, ws.BaseName), anim)
	}
	b.WriteString("\n")

	b.WriteString("$flags 0\n")
	b.WriteString("$origin 0 0 0\n")
	b.WriteString("$eyeposition 0 0 0\n")
	b.WriteString("$bbox 0 0 0 0 0 0\n")
	b.WriteString("$cbox 0 0 0 0 0 0\n")

	return os.WriteFile(path, []byte(b.String()), 0o644)
}

// splitSMDs picks the reference mesh SMD; everything else is an animation.
// Falls back to the first file when no _ref export exists.
func splitSMDs(smds []string) (ref string, anims []string) {
	for _, p := range smds {
		name := filepath.Base(p)
		if ref == "" && strings.Contains(strings.TrimSuffix(name, ".smd"), "_ref") {
			ref = name
			continue
		}
		anims = append(anims, name)
	}
	if ref == "" && len(anims) > 0 {
		ref, anims = anims[0], anims[1:]
	}
	return ref, anims
}

// sequenceName derives a sequence label from an animation SMD filename,
// stripping the model-name prefix the exporter adds.
func sequenceName(smd, base string) string {
	name := strings.TrimSuffix(filepath.Base(smd), ".smd")
	name = strings.TrimPrefix(name, base+"_")
	if name == "" {
		return "idle"
	}
	return name
}
