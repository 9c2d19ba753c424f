package a11y

import (
	"strings"
)

// Role is the semantic category of a node. The set is closed; roles the
// bridge does not model are reported as RoleOther with the platform's
// role name kept on the node.
type Role uint16

const (
	RoleUnknown Role = iota
	RoleOther
	RoleApplication
	RoleDesktopFrame
	RoleFrame
	RoleWindow
	RoleDialog
	RoleAlert
	RoleFiller
	RolePanel
	RoleSection
	RoleGrouping
	RoleScrollPane
	RoleSplitPane
	RoleViewport
	RoleMenuBar
	RoleMenu
	RoleMenuItem
	RoleCheckMenuItem
	RoleRadioMenuItem
	RolePopupMenu
	RoleToolBar
	RoleStatusBar
	RolePushButton
	RoleToggleButton
	RoleCheckBox
	RoleRadioButton
	RoleComboBox
	RoleSpinButton
	RoleSlider
	RoleScrollBar
	RoleProgressBar
	RoleLabel
	RoleText
	RoleEntry
	RolePasswordText
	RoleParagraph
	RoleHeading
	RoleLink
	RoleImage
	RoleIcon
	RoleList
	RoleListBox
	RoleListItem
	RoleTable
	RoleTableRow
	RoleTableCell
	RoleColumnHeader
	RoleRowHeader
	RoleTree
	RoleTreeItem
	RoleTreeTable
	RolePageTabList
	RolePageTab
	RoleDocumentFrame
	RoleDocumentText
	RoleDocumentWeb
	RoleTerminal
	RoleToolTip
	RoleNotification
	RoleSeparator
	roleCount
)

var roleNames = [roleCount]string{
	RoleUnknown:       "unknown",
	RoleOther:         "other",
	RoleApplication:   "application",
	RoleDesktopFrame:  "desktop frame",
	RoleFrame:         "frame",
	RoleWindow:        "window",
	RoleDialog:        "dialog",
	RoleAlert:         "alert",
	RoleFiller:        "filler",
	RolePanel:         "panel",
	RoleSection:       "section",
	RoleGrouping:      "grouping",
	RoleScrollPane:    "scroll pane",
	RoleSplitPane:     "split pane",
	RoleViewport:      "viewport",
	RoleMenuBar:       "menu bar",
	RoleMenu:          "menu",
	RoleMenuItem:      "menu item",
	RoleCheckMenuItem: "check menu item",
	RoleRadioMenuItem: "radio menu item",
	RolePopupMenu:     "popup menu",
	RoleToolBar:       "tool bar",
	RoleStatusBar:     "status bar",
	RolePushButton:    "push button",
	RoleToggleButton:  "toggle button",
	RoleCheckBox:      "check box",
	RoleRadioButton:   "radio button",
	RoleComboBox:      "combo box",
	RoleSpinButton:    "spin button",
	RoleSlider:        "slider",
	RoleScrollBar:     "scroll bar",
	RoleProgressBar:   "progress bar",
	RoleLabel:         "label",
	RoleText:          "text",
	RoleEntry:         "entry",
	RolePasswordText:  "password text",
	RoleParagraph:     "paragraph",
	RoleHeading:       "heading",
	RoleLink:          "link",
	RoleImage:         "image",
	RoleIcon:          "icon",
	RoleList:          "list",
	RoleListBox:       "list box",
	RoleListItem:      "list item",
	RoleTable:         "table",
	RoleTableRow:      "table row",
	RoleTableCell:     "table cell",
	RoleColumnHeader:  "column header",
	RoleRowHeader:     "row header",
	RoleTree:          "tree",
	RoleTreeItem:      "tree item",
	RoleTreeTable:     "tree table",
	RolePageTabList:   "page tab list",
	RolePageTab:       "page tab",
	RoleDocumentFrame: "document frame",
	RoleDocumentText:  "document text",
	RoleDocumentWeb:   "document web",
	RoleTerminal:      "terminal",
	RoleToolTip:       "tool tip",
	RoleNotification:  "notification",
	RoleSeparator:     "separator",
}

var rolesByName = func() map[string]Role {
	m := make(map[string]Role, roleCount)
	for r := Role(0); r < roleCount; r++ {
		m[roleNames[r]] = r
	}
	return m
}()

// String returns the canonical lowercase role name.
func (r Role) String() string {
	if r < roleCount {
		return roleNames[r]
	}
	return "unknown"
}

// Roles returns every modeled role, RoleUnknown and RoleOther included.
func Roles() []Role {
	out := make([]Role, roleCount)
	for i := range out {
		out[i] = Role(i)
	}
	return out
}

// RoleFromName maps a platform role name to a Role. Matching ignores case
// and treats '_' and '-' as spaces, so "PUSH_BUTTON", "push-button" and
// "push button" are equal. Empty names map to RoleUnknown and anything
// else unrecognized to RoleOther.
func RoleFromName(name string) Role {
	norm := normalizeRoleName(name)
	if norm == "" {
		return RoleUnknown
	}
	if r, ok := rolesByName[norm]; ok {
		return r
	}
	return RoleOther
}

func normalizeRoleName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.NewReplacer("_", " ", "-", " ").Replace(name)
	return strings.Join(strings.Fields(name), " ")
}

// IsWindowLike reports whether the role is a top-level container that
// hit testing descends into.
func (r Role) IsWindowLike() bool {
	switch r {
	case RoleFrame, RoleWindow, RoleDialog, RoleAlert, RoleDesktopFrame:
		return true
	}
	return false
}
