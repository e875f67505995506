// Package tui 终端里的练习客户端，直接驱动进程内的编排器。
package tui

import "github.com/charmbracelet/lipgloss"

var (
	colorPrimary = lipgloss.Color("#FF6B6B")
	colorTeal    = lipgloss.Color("#4ecdc4")
	colorAccent  = lipgloss.Color("#ffe66d")
	colorMuted   = lipgloss.Color("#666666")
	colorSuccess = lipgloss.Color("#a8e6cf")
	colorBorder  = lipgloss.Color("#3d5a80")
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorPrimary).
			Padding(0, 1)

	stepStyle = lipgloss.NewStyle().
			Foreground(colorMuted).
			Padding(0, 1)

	stepActiveStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorAccent).
			Padding(0, 1)

	stepDoneStyle = lipgloss.NewStyle().
			Foreground(colorSuccess).
			Padding(0, 1)

	itemStyle = lipgloss.NewStyle().
			Foreground(colorMuted).
			PaddingLeft(2)

	itemActiveStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorAccent).
			PaddingLeft(1)

	userLabelStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorTeal)

	aiLabelStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorPrimary)

	optionStyle = lipgloss.NewStyle().
			Foreground(colorAccent).
			PaddingLeft(4)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder).
			Padding(0, 2)

	tipStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorAccent).
			Padding(0, 1)

	scoreStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorSuccess)

	helpStyle = lipgloss.NewStyle().
			Foreground(colorMuted)

	errorStyle = lipgloss.NewStyle().
			Foreground(colorPrimary).
			Bold(true)
)
