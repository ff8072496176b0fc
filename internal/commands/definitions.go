package commands

import "github.com/bwmarrin/discordgo"

const (
	cmdTip           = "tip"
	cmdReactdrop     = "reactdrop"
	cmdBalance       = "balance"
	cmdNotifications = "notifications"
	cmdHistory       = "history"
	cmdChainInfo     = "chaininfo"
	cmdPeerInfo      = "peerinfo"
)

func amountOption(desc string) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionNumber,
		Name:        "amount",
		Description: desc,
		Required:    true,
		MinValue:    floatPtr(0),
	}
}

// Definitions returns every slash command the bot registers per guild.
func Definitions() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{
			Name:         cmdTip,
			Description:  "Tip a user or every member of a role",
			DMPermission: boolPtr(false),
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "user",
					Description: "Tip one user",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionUser,
							Name:        "user",
							Description: "The user you want to tip",
							Required:    true,
						},
						amountOption("The amount you want to tip"),
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "role",
					Description: "Split a tip among the members of a role",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionRole,
							Name:        "role",
							Description: "The role you want to tip",
							Required:    true,
						},
						amountOption("The amount to split among the role's members"),
					},
				},
			},
		},
		{
			Name:         cmdReactdrop,
			Description:  "Give away an amount to everyone who reacts before the time runs out",
			DMPermission: boolPtr(false),
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "emoji",
					Description: "The emoji users need to react with",
					Required:    true,
				},
				amountOption("The amount you want to give away"),
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "time",
					Description: "How long the reactdrop runs",
					Required:    true,
					MinValue:    floatPtr(1),
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "unit",
					Description: "Unit of the time option",
					Required:    true,
					Choices: []*discordgo.ApplicationCommandOptionChoice{
						{Name: "hours", Value: "hours"},
						{Name: "minutes", Value: "minutes"},
					},
				},
			},
		},
		{
			Name:        cmdBalance,
			Description: "Show your balance",
		},
		{
			Name:        cmdNotifications,
			Description: "Choose how you are told about tips you receive",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "setting",
					Description: "Notification setting",
					Required:    true,
					Choices: []*discordgo.ApplicationCommandOptionChoice{
						{Name: "channel mention and direct message", Value: "all"},
						{Name: "channel mention only", Value: "channel"},
						{Name: "direct message only", Value: "dm"},
						{Name: "off", Value: "off"},
					},
				},
			},
		},
		{
			Name:        cmdHistory,
			Description: "Show your most recent tips",
		},
		{
			Name:        cmdChainInfo,
			Description: "Show information about the blockchain",
		},
		{
			Name:        cmdPeerInfo,
			Description: "Show the peers the wallet is connected to",
		},
	}
}

func boolPtr(b bool) *bool {
	return &b
}

func floatPtr(f float64) *float64 {
	return &f
}
