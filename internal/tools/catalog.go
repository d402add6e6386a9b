package tools

import (
	"slices"
	"strings"

	agenterr "github.com/abdul-hamid-achik/agentd/internal/errors"
	"github.com/abdul-hamid-achik/agentd/internal/permissions"
)

// ServerType identifies a kind of tool server. The set is closed: every
// switch over it in this repository is exhaustive.
type ServerType string

const (
	ServerGmail      ServerType = "gmail"
	ServerCalendar   ServerType = "calendar"
	ServerTelegram   ServerType = "telegram"
	ServerWhatsApp   ServerType = "whatsapp"
	ServerSlack      ServerType = "slack"
	ServerConfluence ServerType = "confluence"
	ServerJira       ServerType = "jira"
)

// ServerTypes lists every supported type in display order.
var ServerTypes = []ServerType{
	ServerGmail,
	ServerCalendar,
	ServerTelegram,
	ServerWhatsApp,
	ServerSlack,
	ServerConfluence,
	ServerJira,
}

// ParseServerType validates a configured type name.
func ParseServerType(s string) (ServerType, error) {
	t := ServerType(strings.ToLower(strings.TrimSpace(s)))
	if slices.Contains(ServerTypes, t) {
		return t, nil
	}
	return "", agenterr.UnknownServerType(s)
}

// Meta describes a server type for the classifier, prompts and default
// policies. Tool names here are native names, before the namespace prefix.
type Meta struct {
	Category      string
	DisplayName   string
	Capability    string
	ReadPrefixes  []string
	WritePrefixes []string
	ApprovalTools []string
}

// Prefix returns the namespace prefix added to this type's tool names.
// Gmail and calendar tool names are already unique; confluence and jira
// servers prefix their own tools.
func (t ServerType) Prefix() string {
	switch t {
	case ServerTelegram:
		return "tg_"
	case ServerWhatsApp:
		return "wa_"
	case ServerSlack:
		return "slack_"
	case ServerGmail, ServerCalendar, ServerConfluence, ServerJira:
		return ""
	}
	return ""
}

// Namespaced applies the type's prefix to native names.
func (t ServerType) Namespaced(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = t.Prefix() + n
	}
	return out
}

// Meta returns the type's metadata.
func (t ServerType) Meta() Meta {
	switch t {
	case ServerGmail:
		return Meta{
			Category:    "gmail",
			DisplayName: "Gmail",
			Capability:  "Search and read email threads in Gmail",
			ReadPrefixes: []string{
				"search_emails", "read_email", "list_email_labels",
				"list_filters", "get_filter", "download_attachment",
			},
			WritePrefixes: []string{
				"draft_email", "send_email", "modify_email", "delete_email",
				"batch_modify_emails", "batch_delete_emails",
				"create_label", "update_label", "delete_label",
				"get_or_create_label", "create_filter", "delete_filter",
			},
			ApprovalTools: []string{
				"send_email", "delete_email", "modify_email",
				"batch_modify_emails", "batch_delete_emails",
			},
		}
	case ServerCalendar:
		return Meta{
			Category:    "calendar",
			DisplayName: "Google Calendar",
			Capability:  "Manage events in Google Calendar",
			ReadPrefixes: []string{
				"list-events", "search-events", "get-event",
				"list-calendars", "list-colors", "get-freebusy",
				"get-current-time",
			},
			WritePrefixes: []string{
				"create-event", "update-event", "delete-event",
				"respond-to-event", "manage-accounts",
			},
			ApprovalTools: []string{
				"update-event", "delete-event", "respond-to-event",
			},
		}
	case ServerTelegram:
		return Meta{
			Category:    "telegram",
			DisplayName: "Telegram",
			Capability:  "Read and send messages in Telegram chats",
			ReadPrefixes: []string{
				"get_", "list_", "search_", "resolve_", "export_contacts",
			},
			WritePrefixes: []string{
				"send_", "reply_", "edit_", "delete_", "forward_",
				"create_", "pin_", "unpin_", "mark_", "ban_", "unban_",
				"promote_", "demote_", "invite_", "leave_", "join_",
				"subscribe_", "import_", "block_", "unblock_",
				"save_", "clear_", "set_", "update_", "mute_", "unmute_",
				"archive_", "unarchive_", "add_", "remove_", "reorder_",
				"press_", "export_chat_invite",
			},
			ApprovalTools: []string{
				"send_message", "delete_message", "ban_user", "leave_chat",
				"create_group", "create_channel", "forward_message",
				"block_user", "promote_admin", "demote_admin",
			},
		}
	case ServerWhatsApp:
		return Meta{
			Category:    "whatsapp",
			DisplayName: "WhatsApp",
			Capability:  "Read and send WhatsApp messages",
			ReadPrefixes: []string{
				"search_contacts", "list_messages", "list_chats",
				"get_chat", "get_message_context", "search_messages",
			},
			WritePrefixes: []string{"send_message"},
			ApprovalTools: []string{"send_message"},
		}
	case ServerSlack:
		return Meta{
			Category:    "slack",
			DisplayName: "Slack",
			Capability:  "Read channels, search messages and post in Slack",
			ReadPrefixes: []string{
				"conversations_history", "conversations_replies",
				"conversations_search_messages", "channels_list",
				"users_search", "usergroups_list", "usergroups_me",
				"attachment_get_data",
			},
			WritePrefixes: []string{
				"conversations_add_message",
				"reactions_add", "reactions_remove",
				"usergroups_create", "usergroups_update",
				"usergroups_users_update",
			},
			ApprovalTools: []string{
				"conversations_add_message",
				"usergroups_create", "usergroups_update",
				"usergroups_users_update",
			},
		}
	case ServerConfluence:
		return Meta{
			Category:      "confluence",
			DisplayName:   "Confluence",
			Capability:    "Search and read Confluence Cloud pages",
			ReadPrefixes:  []string{"conf_get"},
			WritePrefixes: []string{"conf_post", "conf_put", "conf_patch", "conf_delete"},
			ApprovalTools: []string{"conf_post", "conf_put", "conf_patch", "conf_delete"},
		}
	case ServerJira:
		return Meta{
			Category:      "jira",
			DisplayName:   "Jira",
			Capability:    "Search and manage Jira Cloud issues",
			ReadPrefixes:  []string{"jira_get"},
			WritePrefixes: []string{"jira_post", "jira_put", "jira_patch", "jira_delete"},
			ApprovalTools: []string{"jira_post", "jira_put", "jira_patch", "jira_delete"},
		}
	}
	return Meta{Category: string(t), DisplayName: string(t)}
}

// ToolPrefixes returns the namespaced read and write prefixes of a type.
func (t ServerType) ToolPrefixes() []string {
	m := t.Meta()
	return append(t.Namespaced(m.ReadPrefixes), t.Namespaced(m.WritePrefixes)...)
}

// isFamily reports whether a write entry names a family of tools rather
// than one tool.
func isFamily(entry string) bool {
	return strings.HasSuffix(entry, "_") || strings.HasSuffix(entry, "-")
}

// DefaultPolicy builds phase policies for a set of enabled server types:
//   - read_only allows reads only
//   - drafts adds writes, every one of them approval-gated
//   - controlled allows everything and gates the dangerous tools
//
// Approval gates match exact names, so a write family (such as telegram's
// "send_") cannot be gated as a whole. In drafts such families are replaced
// by the type's individually gated tools.
func DefaultPolicy(types []ServerType) permissions.PolicySet {
	var readOnly, draftsAllowed, draftsGated, controlledGated []string
	add := func(list []string, items ...string) []string {
		for _, it := range items {
			if !slices.Contains(list, it) {
				list = append(list, it)
			}
		}
		return list
	}

	for _, t := range types {
		m := t.Meta()
		reads := t.Namespaced(m.ReadPrefixes)
		approvals := t.Namespaced(m.ApprovalTools)

		readOnly = add(readOnly, reads...)
		draftsAllowed = add(draftsAllowed, reads...)

		for _, w := range m.WritePrefixes {
			if isFamily(w) {
				continue
			}
			name := t.Prefix() + w
			draftsAllowed = add(draftsAllowed, name)
			draftsGated = add(draftsGated, name)
		}
		draftsAllowed = add(draftsAllowed, approvals...)
		draftsGated = add(draftsGated, approvals...)

		controlledGated = add(controlledGated, approvals...)
	}

	return permissions.PolicySet{
		ReadOnly:   permissions.PhasePolicy{AllowedPrefixes: readOnly, RequiresApproval: []string{}},
		Drafts:     permissions.PhasePolicy{AllowedPrefixes: draftsAllowed, RequiresApproval: draftsGated},
		Controlled: permissions.PhasePolicy{AllowedPrefixes: []string{permissions.Wildcard}, RequiresApproval: controlledGated},
	}
}
