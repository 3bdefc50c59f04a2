//go:build !unix

package provider

import "os/exec"

// 非 unix 平台没有进程组，沿用 CommandContext 默认的只杀直接子进程。
func killProcessGroupOnCancel(*exec.Cmd) {}
