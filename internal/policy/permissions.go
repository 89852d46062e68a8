package policy

import "github.com/ashfox/toolgate/internal/ports"

// Permission is one of the workspace-level capability strings.
type Permission string

const (
	PermWorkspaceManage Permission = "workspace.manage"
	PermFolderRead      Permission = "folder.read"
	PermFolderWrite     Permission = "folder.write"
	PermWorkspaceMember Permission = "workspace.member"
)

// folderChannels is the resolved {read, write} tristate for one folder
// path, before converting to booleans.
type folderChannels struct {
	read  ports.AclEffect
	write ports.AclEffect
}

// resolveFolderPath walks an ordered path from root ("" folderId) to the
// target folder, maintaining (read, write) as a tristate per spec §4.4
// step 3: at each level, an allow from any matching rule wins, else a
// deny from a matching rule, else the channel inherits from the parent.
func (s *snapshot) resolveFolderPath(roleIDs []string, folderPath []string) folderChannels {
	roleSet := make(map[string]bool, len(roleIDs))
	for _, r := range roleIDs {
		roleSet[r] = true
	}

	rulesByFolder := make(map[string][]ports.AclRule)
	for _, rule := range s.aclRules {
		rulesByFolder[rule.FolderID] = append(rulesByFolder[rule.FolderID], rule)
	}

	channels := folderChannels{read: ports.EffectInherit, write: ports.EffectInherit}
	for _, folderID := range folderPath {
		var sawAllowRead, sawDenyRead, sawAllowWrite, sawDenyWrite bool
		for _, rule := range rulesByFolder[folderID] {
			if !ruleAppliesToRoles(rule, roleSet) {
				continue
			}
			switch rule.Read {
			case ports.EffectAllow:
				sawAllowRead = true
			case ports.EffectDeny:
				sawDenyRead = true
			}
			switch rule.Write {
			case ports.EffectAllow:
				sawAllowWrite = true
			case ports.EffectDeny:
				sawDenyWrite = true
			}
		}
		channels.read = applyLevel(channels.read, sawAllowRead, sawDenyRead)
		channels.write = applyLevel(channels.write, sawAllowWrite, sawDenyWrite)
	}
	return channels
}

func ruleAppliesToRoles(rule ports.AclRule, roleSet map[string]bool) bool {
	for _, r := range rule.RoleIDs {
		if roleSet[r] {
			return true
		}
	}
	return false
}

// applyLevel implements one folder level's transition. Within a single
// level, an allow among the actor's matching roles wins over a sibling
// deny from another matching role — the deny-overrides rule governs
// propagation *across* levels (a deny set at a shallower level persists
// into deeper ones unless a deeper level grants an explicit allow), not
// the union of the same actor's own roles at one folder. Only when no
// rule at this level matches at all does the parent's inherited value
// carry through.
func applyLevel(parent ports.AclEffect, sawAllow, sawDeny bool) ports.AclEffect {
	if sawAllow {
		return ports.EffectAllow
	}
	if sawDeny {
		return ports.EffectDeny
	}
	return parent
}
