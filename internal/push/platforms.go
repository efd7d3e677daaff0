package push

import "strings"

// Platform describes one webhook target family: how to recognize it, how
// much content one message may carry, and its native payload shape.
type Platform struct {
	Name         string
	match        string
	ContentLimit int
	bodyTemplate string
}

// Limits use each platform's documented content-field maximum, shaved where
// the suffix and title share the same field.
var platforms = []Platform{
	{
		Name:         "discord",
		match:        "discord.com",
		ContentLimit: 2000,
		bodyTemplate: `{"content": "{{content}}"}`,
	},
	{
		Name:         "telegram",
		match:        "api.telegram.org",
		ContentLimit: 4096,
		bodyTemplate: `{"text": "{{content}}"}`,
	},
	{
		Name:         "wecom",
		match:        "qyapi.weixin.qq.com",
		ContentLimit: 2048,
		bodyTemplate: `{"msgtype": "text", "text": {"content": "{{content}}"}}`,
	},
	{
		Name:         "lark",
		match:        "open.feishu.cn",
		ContentLimit: 4000,
		bodyTemplate: `{"msg_type": "text", "content": {"text": "{{content}}"}}`,
	},
	{
		Name:         "lark",
		match:        "open.larksuite.com",
		ContentLimit: 4000,
		bodyTemplate: `{"msg_type": "text", "content": {"text": "{{content}}"}}`,
	},
	{
		Name:         "dingtalk",
		match:        "oapi.dingtalk.com",
		ContentLimit: 2000,
		bodyTemplate: `{"msgtype": "text", "text": {"content": "{{content}}"}}`,
	},
	{
		Name:         "slack",
		match:        "hooks.slack.com",
		ContentLimit: 4000,
		bodyTemplate: `{"text": "{{content}}"}`,
	},
}

var genericPlatform = Platform{
	Name:         "generic",
	ContentLimit: 4096,
	bodyTemplate: `{"title": "{{title}}", "content": "{{content}}"}`,
}

// DetectPlatform matches the webhook URL against the fixed table, falling
// back to a generic JSON payload.
func DetectPlatform(webhookURL string) Platform {
	for _, p := range platforms {
		if strings.Contains(webhookURL, p.match) {
			return p
		}
	}

	return genericPlatform
}
