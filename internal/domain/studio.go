package domain

import "time"

// Project is a customer shoot configured in the studio.
type Project struct {
	ID           string
	Title        string
	Prompt       string
	CustomerIDs  []string
	ModelIDs     []string
	SceneAssetID string
}

// Customer is a person being photographed for a project.
type Customer struct {
	ID    string
	Name  string
	Role  string
	Age   string
	Notes string
}

// CastModel is a cast subject whose reference photos pin identity.
type CastModel struct {
	ID                  string
	Name                string
	Role                string
	IdentityDescription string
	ReferenceImages     []string
}

// SceneAsset is a reusable background/scene definition.
type SceneAsset struct {
	ID                string
	Name              string
	Description       string
	Style             string
	Lighting          string
	Props             string
	ReferenceImages   []string
	PrimaryImagePath  *string
	CurrentArtifactID *string
}

// PlanScene is one shot inside a generated project plan.
type PlanScene struct {
	Index        int    `json:"index"`
	Title        string `json:"title"`
	Description  string `json:"description"`
	Shot         string `json:"shot"`
	Mood         string `json:"mood"`
	Wardrobe     string `json:"wardrobe"`
	SceneAssetID string `json:"sceneAssetId"`
}

// Empty reports whether the scene carries no descriptive text.
func (s PlanScene) Empty() bool {
	return s.Title == "" && s.Description == "" && s.Shot == "" && s.Mood == "" && s.Wardrobe == ""
}

// ProjectPlanVersion is one stored revision of a project's shooting plan.
type ProjectPlanVersion struct {
	ID        string
	ProjectID string
	Version   int
	Scenes    []PlanScene
	CreatedAt time.Time
}

// Scene returns the plan scene with the given index.
func (v ProjectPlanVersion) Scene(index int) (PlanScene, bool) {
	for _, s := range v.Scenes {
		if s.Index == index {
			return s, true
		}
	}
	return PlanScene{}, false
}
