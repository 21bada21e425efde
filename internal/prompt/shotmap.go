package prompt

import (
	"fmt"
	"strings"

	"storyreel/internal/domain"
	"storyreel/internal/transitions"
)

// ShotMap builds the prompt for an overhead diagram of the scene's camera
// positions and the transitions between them. shots must already be ordered.
func ShotMap(scene domain.Scene, shots []domain.Shot) string {
	goal := strings.TrimSpace(scene.Goal)
	if goal == "" {
		goal = "Unknown scene"
	}
	lines := []string{
		"Technical overhead camera map, blueprint style, dark navy background, bright colored lines.",
		"Bird's-eye view diagram showing camera positions and movement paths through a scene.",
		"Scene: " + goal,
		"",
		"Camera positions (numbered circles):",
	}
	for i, shot := range shots {
		st := shot.ShotType
		if st == "" {
			st = "medium"
		}
		movement := string(shot.CameraMovement)
		if movement == "" {
			movement = string(domain.CameraStatic)
		}
		lines = append(lines, fmt.Sprintf("  %d. %s - %s - %s", i+1, strings.ToUpper(st), movement, excerpt(shot.Description)))
		if detail := strings.TrimSpace(shot.CameraMovementDetail); detail != "" {
			lines = append(lines, "     Movement: "+detail)
		}
	}
	if len(shots) >= 2 {
		lines = append(lines, "", "Transitions between positions (dashed arrows):")
		for i := 0; i+1 < len(shots); i++ {
			t := shots[i].TransitionType
			if t == "" {
				t = domain.TransitionCut
			}
			lines = append(lines, fmt.Sprintf("  %d [%s] %d: %s", i+1, transitions.Icon(t), i+2, t))
		}
	}
	lines = append(lines,
		"",
		"Style: Numbered bright cyan circles for camera positions, dashed magenta arrows for movement paths,",
		"small white silhouettes for character positions, grid overlay, neon glow on lines.",
		"Vertical 9:16 aspect ratio, no text labels.",
	)
	return strings.Join(lines, "\n")
}
