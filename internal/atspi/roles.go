package atspi

import "atbridge/internal/a11y"

// atspiRoles maps AtspiRole values to bridge roles. Values missing here are
// resolved through the role name.
var atspiRoles = map[uint32]a11y.Role{
	0:   a11y.RoleUnknown,
	2:   a11y.RoleAlert,
	7:   a11y.RoleCheckBox,
	8:   a11y.RoleCheckMenuItem,
	10:  a11y.RoleColumnHeader,
	11:  a11y.RoleComboBox,
	14:  a11y.RoleDesktopFrame,
	16:  a11y.RoleDialog,
	20:  a11y.RoleFiller,
	23:  a11y.RoleFrame,
	26:  a11y.RoleIcon,
	27:  a11y.RoleImage,
	29:  a11y.RoleLabel,
	31:  a11y.RoleList,
	32:  a11y.RoleListItem,
	33:  a11y.RoleMenu,
	34:  a11y.RoleMenuBar,
	35:  a11y.RoleMenuItem,
	37:  a11y.RolePageTab,
	38:  a11y.RolePageTabList,
	39:  a11y.RolePanel,
	40:  a11y.RolePasswordText,
	41:  a11y.RolePopupMenu,
	42:  a11y.RoleProgressBar,
	43:  a11y.RolePushButton,
	44:  a11y.RoleRadioButton,
	45:  a11y.RoleRadioMenuItem,
	47:  a11y.RoleRowHeader,
	48:  a11y.RoleScrollBar,
	49:  a11y.RoleScrollPane,
	50:  a11y.RoleSeparator,
	51:  a11y.RoleSlider,
	52:  a11y.RoleSpinButton,
	53:  a11y.RoleSplitPane,
	54:  a11y.RoleStatusBar,
	55:  a11y.RoleTable,
	56:  a11y.RoleTableCell,
	57:  a11y.RoleColumnHeader,
	58:  a11y.RoleRowHeader,
	60:  a11y.RoleTerminal,
	61:  a11y.RoleText,
	62:  a11y.RoleToggleButton,
	63:  a11y.RoleToolBar,
	64:  a11y.RoleToolTip,
	65:  a11y.RoleTree,
	66:  a11y.RoleTreeTable,
	67:  a11y.RoleUnknown,
	68:  a11y.RoleViewport,
	69:  a11y.RoleWindow,
	73:  a11y.RoleParagraph,
	75:  a11y.RoleApplication,
	79:  a11y.RoleEntry,
	82:  a11y.RoleDocumentFrame,
	83:  a11y.RoleHeading,
	85:  a11y.RoleSection,
	88:  a11y.RoleLink,
	90:  a11y.RoleTableRow,
	91:  a11y.RoleTreeItem,
	94:  a11y.RoleDocumentText,
	95:  a11y.RoleDocumentWeb,
	98:  a11y.RoleListBox,
	99:  a11y.RoleGrouping,
	101: a11y.RoleNotification,
}

func roleFromAtspi(num uint32, name string) a11y.Role {
	if r, ok := atspiRoles[num]; ok {
		return r
	}
	if name == "" {
		return a11y.RoleOther
	}
	return a11y.RoleFromName(name)
}
