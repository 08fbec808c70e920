package protocol

// ActionType identifies an outbound platform action. Values are the
// platform-native wire strings.
type ActionType string

// Message actions.
const (
	ActionSendMsg       ActionType = "send_msg"
	ActionDeleteMsg     ActionType = "delete_msg"
	ActionGetMsg        ActionType = "get_msg"
	ActionGetForwardMsg ActionType = "get_forward_msg"
)

// Group actions.
const (
	ActionGroupKick            ActionType = "set_group_kick"
	ActionGroupBan             ActionType = "set_group_ban"
	ActionGroupAnonymousBan    ActionType = "set_group_anonymous_ban"
	ActionGroupWholeBan        ActionType = "set_group_whole_ban"
	ActionGroupSetAdmin        ActionType = "set_group_admin"
	ActionGroupSetCard         ActionType = "set_group_card"
	ActionGroupSetName         ActionType = "set_group_name"
	ActionGroupLeave           ActionType = "set_group_leave"
	ActionGroupSetSpecialTitle ActionType = "set_group_special_title"
	ActionGroupAddRequest      ActionType = "set_group_add_request"
	ActionGroupGetInfo         ActionType = "get_group_info"
	ActionGroupGetMemberList   ActionType = "get_group_member_list"
	ActionGroupGetMemberInfo   ActionType = "get_group_member_info"
)

// Friend actions.
const (
	ActionFriendSendLike   ActionType = "send_like"
	ActionFriendAddRequest ActionType = "set_friend_add_request"
	ActionFriendGetList    ActionType = "get_friend_list"
)

// Bot actions.
const (
	ActionBotGetLoginInfo    ActionType = "get_login_info"
	ActionBotGetStrangerInfo ActionType = "get_stranger_info"
	ActionBotGetFriendList   ActionType = "get_friend_list"
	ActionBotGetGroupList    ActionType = "get_group_list"
	ActionBotGetCookies      ActionType = "get_cookies"
	ActionBotGetCSRFToken    ActionType = "get_csrf_token"
	ActionBotGetCredentials  ActionType = "get_credentials"
	ActionBotGetRecord       ActionType = "get_record"
	ActionBotGetImage        ActionType = "get_image"
	ActionBotCanSendImage    ActionType = "can_send_image"
	ActionBotCanSendRecord   ActionType = "can_send_record"
	ActionBotGetStatus       ActionType = "get_status"
	ActionBotGetVersion      ActionType = "get_version"
	ActionBotSetRestart      ActionType = "set_restart"
	ActionBotCleanCache      ActionType = "clean_cache"
)

// NoticeType identifies an inbound notice event. Values are the
// platform-native wire strings, preserved verbatim from the adapter.
type NoticeType string

// Group notices.
const (
	NoticeGroupUpload         NoticeType = "group_upload"
	NoticeGroupSetAdmin       NoticeType = "set_group_admin"
	NoticeGroupUnsetAdmin     NoticeType = "unset_group_admin"
	NoticeGroupDecrease       NoticeType = "group_decrease"
	NoticeGroupIncrease       NoticeType = "group_increase"
	NoticeGroupBan            NoticeType = "group_ban"
	NoticeGroupLiftBan        NoticeType = "group_lift_ban"
	NoticeGroupRecall         NoticeType = "group_recall"
	NoticeGroupPoke           NoticeType = "group_poke"
	NoticeGroupHonor          NoticeType = "group_honor"
	NoticeGroupAddRequest     NoticeType = "group_add_request"
	NoticeGroupInviteRequest  NoticeType = "group_invite_request"
)

// Friend notices.
const (
	NoticeFriendAdd        NoticeType = "friend_add"
	NoticeFriendRecall     NoticeType = "friend_recall"
	NoticeFriendAddRequest NoticeType = "friend_add_request"
)

// Bot lifecycle notices.
const (
	NoticeBotLifecycle NoticeType = "lifecycle"
	NoticeBotHeartbeat NoticeType = "heartbeat"
)
