package notifier

import (
	"context"
	"fmt"
	"net/smtp"
	"sort"
	"strings"

	"contact-radar/internal/model"
)

// EmailConfig 邮件配置。
type EmailConfig struct {
	Host     string   `yaml:"host" toml:"host"`
	Port     int      `yaml:"port" toml:"port"`
	Username string   `yaml:"username" toml:"username"`
	Password string   `yaml:"password" toml:"password"`
	From     string   `yaml:"from" toml:"from"`
	To       []string `yaml:"to" toml:"to"`
	Subject  string   `yaml:"subject" toml:"subject"`
}

// Enabled 判断是否配置了 SMTP 主机。
func (c EmailConfig) Enabled() bool {
	return strings.TrimSpace(c.Host) != ""
}

// EmailMessage 表示一封邮件。
type EmailMessage struct {
	From    string
	To      []string
	Subject string
	Body    string
}

// EmailSender 抽象发送接口，便于测试替换。
type EmailSender interface {
	Send(ctx context.Context, msg EmailMessage) error
}

// SMTPClient 封装 SMTP 发送。
type SMTPClient struct {
	addr string
	auth smtp.Auth
}

func NewSMTPClient(cfg EmailConfig) *SMTPClient {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	var auth smtp.Auth
	if cfg.Username != "" && cfg.Password != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	return &SMTPClient{addr: addr, auth: auth}
}

func (c *SMTPClient) Send(ctx context.Context, msg EmailMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data := buildEmailData(msg)
	return smtp.SendMail(c.addr, c.auth, msg.From, msg.To, []byte(data))
}

// EmailNotifier 在数据库生成结束后发送邮件。
type EmailNotifier struct {
	cfg    EmailConfig
	sender EmailSender
}

// NewEmailNotifier 创建 EmailNotifier。
func NewEmailNotifier(cfg EmailConfig, sender EmailSender) *EmailNotifier {
	if sender == nil {
		sender = NewSMTPClient(cfg)
	}
	if cfg.Subject == "" {
		cfg.Subject = "Your contact database"
	}
	return &EmailNotifier{cfg: cfg, sender: sender}
}

// JobFinished 优先发给任务指定的邮箱，否则发给配置的收件人；都没有时跳过。
func (n EmailNotifier) JobFinished(ctx context.Context, job *model.Job) error {
	if job == nil {
		return nil
	}
	to := n.cfg.To
	if addr := strings.TrimSpace(job.NotifyEmail); addr != "" {
		to = []string{addr}
	}
	if len(to) == 0 {
		return nil
	}

	msg := EmailMessage{
		From:    n.cfg.From,
		To:      to,
		Subject: fmt.Sprintf("%s: %s (%s)", n.cfg.Subject, job.Name, job.State),
		Body:    buildBody(job),
	}
	if err := n.sender.Send(ctx, msg); err != nil {
		return fmt.Errorf("send email for job %s: %w", job.ID, err)
	}
	return nil
}

func buildBody(job *model.Job) string {
	stats := job.Statistics()
	var b strings.Builder
	b.WriteString(fmt.Sprintf("Database %q finished with state %s.\n", job.Name, job.State))
	b.WriteString(fmt.Sprintf("Search: %s\n", job.SearchTerm))
	b.WriteString(fmt.Sprintf("Unique contacts: %d (target %d)\n", stats.UniqueContacts, job.Target))
	b.WriteString(fmt.Sprintf("Queries processed: %d\n", stats.QueriesProcessed))
	if job.Message != "" {
		b.WriteString(fmt.Sprintf("Message: %s\n", job.Message))
	}
	files := job.Files()
	if len(files) > 0 {
		formats := make([]string, 0, len(files))
		for f := range files {
			formats = append(formats, f)
		}
		sort.Strings(formats)
		b.WriteString(fmt.Sprintf("Available formats: %s\n", strings.Join(formats, ", ")))
	}
	return b.String()
}

func buildEmailData(msg EmailMessage) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("From: %s\r\n", msg.From))
	b.WriteString(fmt.Sprintf("To: %s\r\n", strings.Join(msg.To, ",")))
	b.WriteString(fmt.Sprintf("Subject: %s\r\n", msg.Subject))
	b.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString(msg.Body)
	return b.String()
}
