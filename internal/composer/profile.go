package composer

import "photostudio/internal/domain"

// Profile names an ordered block list.
type Profile string

const (
	ProfilePlanScene   Profile = "plan-scene"
	ProfileAsset       Profile = "asset"
	ProfilePlanVersion Profile = "plan-version"
	ProfileProject     Profile = "project"
	ProfileDefault     Profile = "default"
)

var builtinProfiles = map[Profile][]domain.BlockKind{
	ProfilePlanScene: {
		domain.BlockStudioPolicy,
		domain.BlockProject,
		domain.BlockCustomers,
		domain.BlockModelIdentity,
		domain.BlockSceneAsset,
		domain.BlockPlanScene,
		domain.BlockDraft,
		domain.BlockEditInstruction,
	},
	ProfileAsset: {
		domain.BlockStudioPolicy,
		domain.BlockSceneAsset,
		domain.BlockDraft,
		domain.BlockEditInstruction,
	},
	ProfilePlanVersion: projectBlocks,
	ProfileProject:     projectBlocks,
	ProfileDefault: {
		domain.BlockStudioPolicy,
		domain.BlockDraft,
		domain.BlockEditInstruction,
	},
}

var projectBlocks = []domain.BlockKind{
	domain.BlockStudioPolicy,
	domain.BlockProject,
	domain.BlockCustomers,
	domain.BlockModelIdentity,
	domain.BlockSceneAsset,
	domain.BlockDraft,
	domain.BlockEditInstruction,
}

// SelectProfile picks the profile for a request. The owner type alone decides
// when an owner is present.
func SelectProfile(owner *domain.Owner, projectID string) Profile {
	if owner != nil {
		switch owner.Type {
		case domain.OwnerTypePlanScene:
			return ProfilePlanScene
		case domain.OwnerTypeAsset:
			return ProfileAsset
		case domain.OwnerTypeProjectPlanVersion:
			return ProfilePlanVersion
		}
	}
	if projectID != "" {
		return ProfileProject
	}
	return ProfileDefault
}

// Blocks returns a copy of the built-in block list for p.
func Blocks(p Profile) []domain.BlockKind {
	return append([]domain.BlockKind(nil), builtinProfiles[p]...)
}
