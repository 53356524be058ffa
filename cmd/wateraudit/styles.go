package main

import "github.com/charmbracelet/lipgloss"

var (
	stageStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#4FC3F7"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#8BC34A")).Bold(true)
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFB300"))
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#E53935")).Bold(true)
	labelStyle = lipgloss.NewStyle().Bold(true).Width(24)
)
