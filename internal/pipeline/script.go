package pipeline

import "os"

// exportScript is the headless blender program driving the FBX -> SMD
// export. It prefers the Source Tools addon and falls back to a minimal
// hand-written SMD export so the pipeline still produces a reference mesh
// on hosts without the addon.
const exportScript = `import bpy
import os
import sys


def clear_scene():
    bpy.ops.object.select_all(action='SELECT')
    bpy.ops.object.delete(use_global=False)


def enable_source_tools():
    try:
        bpy.ops.preferences.addon_enable(module="io_scene_valvesource")
        return True
    except Exception:
        print("source tools addon unavailable, using fallback export")
        return False


def export_with_source_tools(out_dir, base):
    ref_path = os.path.join(out_dir, base + "_ref.smd")
    bpy.ops.export_scene.smd(filepath=ref_path, export_animations=False, export_triangles=True)
    print("exported " + ref_path)
    if bpy.data.actions:
        for action in bpy.data.actions:
            anim_path = os.path.join(out_dir, base + "_" + action.name + ".smd")
            if bpy.context.object and bpy.context.object.animation_data:
                bpy.context.object.animation_data.action = action
            bpy.ops.export_scene.smd(filepath=anim_path, export_animations=True, export_triangles=False)
            print("exported " + anim_path)
    else:
        idle_path = os.path.join(out_dir, base + "_idle.smd")
        bpy.ops.export_scene.smd(filepath=idle_path, export_animations=True, export_triangles=False)
        print("exported " + idle_path)


def export_fallback(out_dir, base):
    ref_path = os.path.join(out_dir, base + "_ref.smd")
    with open(ref_path, "w") as f:
        f.write("version 1\n")
        f.write("nodes\n0 \"root\" -1\nend\n")
        f.write("skeleton\ntime 0\n0 0 0 0 0 0 0\nend\n")
        f.write("triangles\n")
        depsgraph = bpy.context.evaluated_depsgraph_get()
        for obj in bpy.context.scene.objects:
            if obj.type != 'MESH':
                continue
            mesh = obj.evaluated_get(depsgraph).data
            mesh.calc_loop_triangles()
            for tri in mesh.loop_triangles:
                material = "default"
                if obj.material_slots and tri.material_index < len(obj.material_slots):
                    slot = obj.material_slots[tri.material_index].material
                    if slot:
                        material = slot.name
                f.write(material + "\n")
                for loop_index in tri.loops:
                    loop = mesh.loops[loop_index]
                    v = obj.matrix_world @ mesh.vertices[loop.vertex_index].co
                    n = (obj.matrix_world.to_3x3() @ mesh.vertices[loop.vertex_index].normal).normalized()
                    uv = (0.0, 0.0)
                    if mesh.uv_layers:
                        uv = mesh.uv_layers.active.data[loop_index].uv
                    f.write("0 %.6f %.6f %.6f %.6f %.6f %.6f %.6f %.6f\n"
                            % (v.x, v.y, v.z, n.x, n.y, n.z, uv[0], uv[1]))
        f.write("end\n")
    print("exported " + ref_path)

    idle_path = os.path.join(out_dir, base + "_idle.smd")
    with open(idle_path, "w") as f:
        f.write("version 1\n")
        f.write("nodes\n0 \"root\" -1\nend\n")
        f.write("skeleton\ntime 0\n0 0 0 0 0 0 0\ntime 1\n0 0 0 0 0 0 0\nend\n")
    print("exported " + idle_path)


def main():
    fbx_path = sys.argv[-2]
    out_dir = sys.argv[-1]
    base = "model"

    clear_scene()
    has_source_tools = enable_source_tools()

    bpy.ops.import_scene.fbx(filepath=fbx_path, use_anim=True)
    print("imported " + fbx_path)

    if has_source_tools:
        try:
            export_with_source_tools(out_dir, base)
            return
        except Exception as exc:
            print("source tools export failed: %s" % exc)
    export_fallback(out_dir, base)


if __name__ == "__main__":
    try:
        main()
    except Exception as exc:
        print("export failed: %s" % exc)
        sys.exit(1)
`

// writeExportScript materializes the export script inside the job's
// working directory so blender can run it without touching shared paths.
func writeExportScript(path string) error {
	return os.WriteFile(path, []byte(exportScript), 0o644)
}
