package provider

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"tirds/internal/logger"
	"tirds/internal/pkg/text"
)

const defaultWaitDelay = 2 * time.Second

// CLIProvider 通过外部推理进程（默认 `claude -p`）完成调用：
// user prompt 写入 stdin，stdout 即模型输出；deadline 到达时进程被强制杀掉。
type CLIProvider struct {
	id               string
	binary           string
	args             []string
	systemPromptFlag string
	modelFlag        string
	waitDelay        time.Duration
}

type CLIOptions struct {
	ID               string
	Binary           string
	Args             []string
	SystemPromptFlag string
	ModelFlag        string
	// WaitDelay 限制进程被杀后等待管道关闭的时间。
	WaitDelay time.Duration
}

func NewCLIProvider(opts CLIOptions) *CLIProvider {
	id := strings.TrimSpace(opts.ID)
	if id == "" {
		id = "claude_cli"
	}
	wait := opts.WaitDelay
	if wait <= 0 {
		wait = defaultWaitDelay
	}
	return &CLIProvider{
		id:               id,
		binary:           strings.TrimSpace(opts.Binary),
		args:             append([]string(nil), opts.Args...),
		systemPromptFlag: strings.TrimSpace(opts.SystemPromptFlag),
		modelFlag:        strings.TrimSpace(opts.ModelFlag),
		waitDelay:        wait,
	}
}

func (p *CLIProvider) ID() string { return p.id }

// commandArgs 组装进程参数；flag 为空时对应参数整体省略。
func (p *CLIProvider) commandArgs(payload ChatPayload) []string {
	args := append([]string(nil), p.args...)
	if p.systemPromptFlag != "" && payload.System != "" {
		args = append(args, p.systemPromptFlag, payload.System)
	}
	if p.modelFlag != "" && strings.TrimSpace(payload.Model) != "" {
		args = append(args, p.modelFlag, payload.Model)
	}
	return args
}

func (p *CLIProvider) Call(ctx context.Context, payload ChatPayload) (string, error) {
	if p.binary == "" {
		return "", processError(p.id, "未配置推理程序", nil)
	}
	if err := ctx.Err(); err != nil {
		return "", timeoutError(p.id, err)
	}
	logger.LogLLMRequest("cli", p.id, payload.Purpose, payload.System, payload.User, "")
	start := time.Now()

	cmd := exec.CommandContext(ctx, p.binary, p.commandArgs(payload)...)
	cmd.Stdin = strings.NewReader(payload.User)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = p.waitDelay
	// 推理进程可能再派生子进程，超时要杀掉整个进程组
	killProcessGroupOnCancel(cmd)

	runErr := cmd.Run()
	out := strings.TrimSpace(stdout.String())
	err := p.classify(ctx, runErr, out, stderr.String())
	logger.LogLLMResponse("cli", p.id, payload.Purpose, out, time.Since(start), err)
	if err != nil {
		return "", err
	}
	return out, nil
}

func (p *CLIProvider) classify(ctx context.Context, runErr error, out, stderr string) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return timeoutError(p.id, ctxErr)
	}
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			msg := fmt.Sprintf("exit code %d", exitErr.ExitCode())
			if s := strings.TrimSpace(stderr); s != "" {
				msg += ": " + text.Truncate(s, 512)
			}
			return processError(p.id, msg, runErr)
		}
		if errors.Is(runErr, exec.ErrWaitDelay) && out != "" {
			logger.Warnf("[cli] %s 输出管道未及时关闭，已使用现有输出", p.id)
			return nil
		}
		return processError(p.id, "启动推理进程失败", runErr)
	}
	if out == "" {
		return processError(p.id, "推理进程输出为空", nil)
	}
	return nil
}
