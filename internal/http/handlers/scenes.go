package handlers

import "net/http"

func (a *App) ComposeScene(w http.ResponseWriter, r *http.Request) {
	a.trigger(a.Pipeline.Compose)(w, r)
}

func (a *App) SceneShotMap(w http.ResponseWriter, r *http.Request) {
	a.trigger(a.Pipeline.ShotMap)(w, r)
}

func (a *App) SceneTransitions(w http.ResponseWriter, r *http.Request) {
	id, ok := a.id(w, r)
	if !ok {
		return
	}
	suggestions, err := a.Pipeline.Transitions(r.Context(), id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{"scene_id": id, "suggestions": suggestions})
}
