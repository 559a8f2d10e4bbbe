package prompt

import (
	"fmt"
	"strconv"
	"strings"

	"novel-engine/internal/config"
	"novel-engine/shared/models"
)

// Settings - ограничения, влияющие на содержимое промптов.
type Settings struct {
	MaxPromptChars int
	HistoryWindow  int
	MinChoices     int
	MaxChoices     int
}

// SettingsFromConfig берет ограничения из конфигурации воркера.
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		MaxPromptChars: cfg.MaxPromptChars,
		HistoryWindow:  cfg.HistoryWindow,
		MinChoices:     cfg.MinChoicesPerChapter,
		MaxChoices:     cfg.MaxChoicesPerChapter,
	}
}

const maxHistoryWindow = 3

// Builder собирает промпты стадий по шаблону темы.
// Размер промпта ограничен MaxPromptChars (в рунах).
type Builder struct {
	settings Settings
}

// NewBuilder создает Builder. Нулевые значения заменяются значениями по умолчанию.
// Окно истории не шире maxHistoryWindow.
func NewBuilder(s Settings) *Builder {
	if s.HistoryWindow <= 0 || s.HistoryWindow > maxHistoryWindow {
		s.HistoryWindow = maxHistoryWindow
	}
	if s.MaxChoices <= 0 {
		s.MaxChoices = 4
	}
	if s.MinChoices <= 0 || s.MinChoices > s.MaxChoices {
		s.MinChoices = 2
		if s.MinChoices > s.MaxChoices {
			s.MinChoices = s.MaxChoices
		}
	}
	return &Builder{settings: s}
}

// Settings возвращает действующие ограничения.
func (b *Builder) Settings() Settings {
	return b.settings
}

// ChapterInput - все, что нужно для промпта главы.
type ChapterInput struct {
	Theme          models.Theme
	WorldSetting   *models.WorldSetting
	Protagonist    *models.Protagonist
	History        []models.ChapterSummary
	ChapterNumber  int
	LastChoice     *models.ChoiceRecord
	ContextSummary string
	Recalled       []models.SearchResult
}

const jsonOnly = "只输出一个JSON对象，用```json代码块包裹，不要输出其他内容。"

func header(p themeProfile, role string) section {
	return section{
		body: fmt.Sprintf("你是一名%s。\n题材：%s。\n写作风格：%s。", role, p.Genre, p.Style),
	}
}

// WorldSetting - промпт стадии построения мира.
func (b *Builder) WorldSetting(theme models.Theme) (string, error) {
	p, err := profileFor(theme)
	if err != nil {
		return "", err
	}
	secs := []section{
		header(p, "经验丰富的小说世界观设计师"),
		{
			heading: "任务",
			body: fmt.Sprintf("请为一部%s题材的小说设计完整的世界观，包括世界名称与背景、力量体系、主要地点、重要势力、世界法则以及故事开场的场景。\n不要创建任何具体人物。", theme),
		},
		{heading: "题材要求", items: bullets(p.WorldDemands)},
		{heading: "输出格式", body: worldSchema + "\n" + jsonOnly},
	}
	return fit(secs, b.settings.MaxPromptChars), nil
}

// Protagonist - промпт стадии создания главного героя.
func (b *Builder) Protagonist(theme models.Theme, ws *models.WorldSetting) (string, error) {
	p, err := profileFor(theme)
	if err != nil {
		return "", err
	}
	if ws == nil {
		return "", fmt.Errorf("%w: protagonist requires a world setting", models.ErrInvalidStageOrder)
	}
	secs := []section{
		header(p, "专业的小说角色设计师"),
		{
			heading: "任务",
			body: fmt.Sprintf("请为这部%s小说创造一位主人公：个性鲜明，有成长空间，背景与动机合理，带有真实的弱点。\n主人公必须与下面的世界观相符。", theme),
		},
		{heading: "世界观", body: renderWorld(ws), trim: trimSentences, priority: 4},
		{heading: "输出格式", body: protagonistSchema + "\n" + jsonOnly},
	}
	return fit(secs, b.settings.MaxPromptChars), nil
}

// Chapter - промпт очередной главы.
// В промпт попадают не более HistoryWindow последних записей истории.
func (b *Builder) Chapter(in ChapterInput) (string, error) {
	p, err := profileFor(in.Theme)
	if err != nil {
		return "", err
	}
	if in.WorldSetting == nil || in.Protagonist == nil {
		return "", fmt.Errorf("%w: chapter requires world setting and protagonist", models.ErrInvalidStageOrder)
	}
	task := fmt.Sprintf(
		"请创作第%d章。情节紧凑，推动主线并展现人物成长，包含冲突与悬念。\n正文约3000字，包含场景描写、人物对话与心理活动。\n章节结尾给出%d到%d个有意义的选择，难度和类型要有区别。",
		in.ChapterNumber, b.settings.MinChoices, b.settings.MaxChoices)
	secs := b.storySections(p, "优秀的网络小说作家", task, in)
	secs = append(secs, section{heading: "输出格式", body: chapterSchema + "\n" + jsonOnly})
	return fit(secs, b.settings.MaxPromptChars), nil
}

// Ending - промпт завершающей главы без вариантов выбора.
func (b *Builder) Ending(in ChapterInput, endingType string) (string, error) {
	p, err := profileFor(in.Theme)
	if err != nil {
		return "", err
	}
	if in.WorldSetting == nil || in.Protagonist == nil {
		return "", fmt.Errorf("%w: ending requires world setting and protagonist", models.ErrInvalidStageOrder)
	}
	if endingType == "" {
		endingType = "圆满"
	}
	task := fmt.Sprintf(
		"请创作第%d章，也是全书的结局章，结局基调：%s。\n收束主要矛盾，交代主人公的命运，回应前文埋下的伏笔。\n结局章不提供任何选择，is_ending 为 true，choices 为空数组。",
		in.ChapterNumber, endingType)
	secs := b.storySections(p, "擅长收尾的小说作家", task, in)
	secs = append(secs, section{heading: "输出格式", body: chapterSchema + "\n" + jsonOnly})
	return fit(secs, b.settings.MaxPromptChars), nil
}

func (b *Builder) storySections(p themeProfile, role, task string, in ChapterInput) []section {
	secs := []section{
		header(p, role),
		{heading: "任务", body: task},
		{heading: "世界观", body: renderWorld(in.WorldSetting), trim: trimSentences, priority: 4},
		{heading: "主人公", body: renderProtagonist(in.Protagonist), trim: trimSentences, priority: 4},
		{heading: "前情回顾", items: renderHistory(models.TailHistory(in.History, b.settings.HistoryWindow)), trim: trimOldest, priority: 1},
		{heading: "故事记忆", body: in.ContextSummary, trim: trimSentences, priority: 2},
		{heading: "相关细节", items: renderRecalled(in.Recalled), trim: trimNewest, priority: 3},
	}
	if in.LastChoice != nil {
		secs = append(secs, section{heading: "读者上一次的选择", body: renderChoice(in.LastChoice)})
	}
	return secs
}

// ChoiceAnalysis - промпт анализа последствий выбора.
func (b *Builder) ChoiceAnalysis(theme models.Theme, choice models.ChoiceOption, currentContext string) (string, error) {
	p, err := profileFor(theme)
	if err != nil {
		return "", err
	}
	desc := choice.Description
	if desc == "" {
		desc = "无"
	}
	secs := []section{
		header(p, "经验丰富的小说编剧"),
		{
			heading: "任务",
			body: fmt.Sprintf("请分析读者选择的后果。\n选择内容：%s\n选择描述：%s\n分析直接后果、长期影响、角色变化、关系变化和剧情走向。", choice.Text, desc),
		},
		{heading: "当前情境", body: currentContext, trim: trimSentences, priority: 1},
		{heading: "输出格式", body: choiceAnalysisSchema + "\n" + jsonOnly},
	}
	return fit(secs, b.settings.MaxPromptChars), nil
}

// StoryAnalysis - промпт оценки структуры и напряжения истории.
func (b *Builder) StoryAnalysis(theme models.Theme, history []models.ChapterSummary, protagonist *models.Protagonist, chapterNumber int) (string, error) {
	p, err := profileFor(theme)
	if err != nil {
		return "", err
	}
	secs := []section{
		header(p, "专业的小说分析师"),
		{
			heading: "任务",
			body: fmt.Sprintf("当前进行到第%d章。请判断剧情阶段（开端、发展、高潮、结局），给紧张程度打分（1-10），分析角色弧线，建议3到5个后续事件，并给出2到3个可能的结局方向。", chapterNumber),
		},
		{heading: "主人公", body: renderProtagonist(protagonist), trim: trimSentences, priority: 2},
		{heading: "故事历程", items: renderHistory(history), trim: trimOldest, priority: 1},
		{heading: "输出格式", body: storyAnalysisSchema + "\n" + jsonOnly},
	}
	return fit(secs, b.settings.MaxPromptChars), nil
}

// StorySummary - промпт краткого пересказа всей истории. Ответ - обычный текст.
func (b *Builder) StorySummary(theme models.Theme, history []models.ChapterSummary, protagonist *models.Protagonist) (string, error) {
	p, err := profileFor(theme)
	if err != nil {
		return "", err
	}
	secs := []section{
		header(p, "资深小说编辑"),
		{heading: "任务", body: "请用不超过300字概括目前为止的故事，突出主人公的经历与关键转折。直接输出概括正文，不要使用JSON或标题。"},
		{heading: "主人公", body: renderProtagonist(protagonist), trim: trimSentences, priority: 2},
		{heading: "各章摘要", items: renderHistory(history), trim: trimOldest, priority: 1},
	}
	return fit(secs, b.settings.MaxPromptChars), nil
}

// MemoryExtraction - промпт разбора текста главы на факты для памяти.
// Текст главы укорачивается до maxChars рун по границе предложения.
func (b *Builder) MemoryExtraction(chapterText string, maxChars int) string {
	if maxChars > 0 {
		chapterText = CutAtSentence(chapterText, maxChars)
	}
	types := make([]string, 0, len(models.AllMemoryTypes()))
	for _, t := range models.AllMemoryTypes() {
		types = append(types, string(t))
	}
	secs := []section{
		{body: "你是一名小说记忆整理助手，负责从章节中提炼后续创作需要记住的事实。"},
		{
			heading: "任务",
			body: fmt.Sprintf("请从下面的章节中提取重要信息：人物、情节、世界观、选择、情感和场景。\n每条信息独立成句，memory_type 取值：%s；importance 取值：low、medium、high、critical。", strings.Join(types, "、")),
		},
		{heading: "章节内容", body: chapterText, trim: trimSentences, priority: 1},
		{heading: "输出格式", body: memorySchema + "\n" + jsonOnly},
	}
	return fit(secs, b.settings.MaxPromptChars)
}

// ContextSummary - промпт сжатия сгруппированных воспоминаний в сводку для следующей главы.
func (b *Builder) ContextSummary(digest string) string {
	secs := []section{
		{body: "你是一名小说记忆整理助手。"},
		{heading: "任务", body: "下面是按类别整理的故事记忆。请把它们压缩成一段不超过200字的故事背景概要，保留人物关系、未解决的冲突和关键设定。直接输出概要正文。"},
		{heading: "故事记忆", body: digest, trim: trimSentences, priority: 1},
	}
	return fit(secs, b.settings.MaxPromptChars)
}

func bullets(lines []string) []string {
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		out = append(out, "- "+l)
	}
	return out
}

func renderWorld(ws *models.WorldSetting) string {
	if ws == nil {
		return ""
	}
	var sb strings.Builder
	line(&sb, "世界名称", ws.WorldName)
	line(&sb, "世界描述", ws.WorldDescription)
	line(&sb, "力量体系", ws.PowerSystem)
	line(&sb, "主要地点", strings.Join(ws.MainLocations, "、"))
	line(&sb, "重要势力", strings.Join(ws.KeyFactions, "、"))
	line(&sb, "世界法则", strings.Join(ws.WorldRules, "；"))
	line(&sb, "开场场景", ws.StartingScene)
	return sb.String()
}

func renderProtagonist(p *models.Protagonist) string {
	if p == nil {
		return ""
	}
	var sb strings.Builder
	line(&sb, "姓名", p.Name)
	line(&sb, "年龄", p.Age)
	line(&sb, "性别", p.Gender)
	line(&sb, "外貌", p.Appearance)
	line(&sb, "性格", p.Personality)
	line(&sb, "背景", p.Background)
	line(&sb, "初始能力", strings.Join(p.InitialAbilities, "、"))
	line(&sb, "目标", strings.Join(p.Goals, "、"))
	line(&sb, "弱点", strings.Join(p.Weaknesses, "、"))
	line(&sb, "特殊特质", strings.Join(p.SpecialTraits, "、"))
	line(&sb, "起始处境", p.StartingScenario)
	return sb.String()
}

func renderHistory(history []models.ChapterSummary) []string {
	out := make([]string, 0, len(history))
	for _, h := range history {
		out = append(out, fmt.Sprintf("第%d章《%s》：%s", h.ChapterNumber, h.Title, h.Summary))
	}
	return out
}

func renderRecalled(results []models.SearchResult) []string {
	out := make([]string, 0, len(results))
	for _, r := range results {
		if r.Item == nil {
			continue
		}
		out = append(out, fmt.Sprintf("- [%s] %s", r.Item.MemoryType, r.Item.Content))
	}
	return out
}

func renderChoice(c *models.ChoiceRecord) string {
	if c.CustomAction != "" {
		return "读者自定义行动：" + c.CustomAction
	}
	return "第" + strconv.Itoa(c.ChapterNumber) + "章的选择：" + c.ChoiceText
}

func line(sb *strings.Builder, label, value string) {
	if strings.TrimSpace(value) == "" {
		return
	}
	sb.WriteString(label)
	sb.WriteString("：")
	sb.WriteString(value)
	sb.WriteString("\n")
}
