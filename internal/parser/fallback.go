package parser

import (
	"fmt"
	"strings"

	"novel-engine/shared/models"
)

// Причины использования fallback (StageResult.FallbackReason).
const (
	ReasonOutputTooLong   = "output_too_long"
	ReasonNoJSON          = "no_json_object"
	ReasonInvalidOutput   = "invalid_output"
	ReasonProviderError   = "provider_error"
	ReasonProviderTimeout = "provider_timeout"
)

// FallbackContext - данные, из которых собираются детерминированные заглушки.
type FallbackContext struct {
	Theme           models.Theme
	WorldName       string
	ProtagonistName string
	ChapterNumber   int
	ChoiceText      string
	History         []models.ChapterSummary
}

type themeDefaults struct {
	World        models.WorldSetting
	Hero         models.Protagonist
	Scene        string
	ChapterTitle string
}

var defaultsByTheme = map[models.Theme]themeDefaults{
	models.ThemeCultivation: {
		World: models.WorldSetting{
			WorldName:        "苍玄界",
			WorldDescription: "灵气充沛的修真世界，凡人与修士共存，宗门林立，强者可移山填海。",
			PowerSystem:      "练气、筑基、金丹、元婴、化神",
			MainLocations:    []string{"青云山", "万灵秘境", "落霞坊市"},
			KeyFactions:      []string{"青云宗", "血煞魔宗", "散修联盟"},
			WorldRules:       []string{"灵根决定修炼资质", "天劫考验每一次大境界突破"},
			StartingScene:    "青云山脚下的小山村，宗门收徒大典即将开始。",
		},
		Hero: models.Protagonist{
			Name:             "林逸",
			Age:              "十六岁",
			Gender:           "男",
			Personality:      "坚韧沉稳，不轻言放弃",
			Background:       "山村孤儿，偶得一枚古朴玉佩。",
			InitialAbilities: []string{"过目不忘"},
			Goals:            []string{"踏上修仙之路"},
			Weaknesses:       []string{"灵根驳杂"},
			StartingScenario: "宗门收徒大典前夕。",
		},
		Scene:        "山风裹着灵气掠过崖边，远处的宗门钟声悠悠传来。",
		ChapterTitle: "机缘初现",
	},
	models.ThemeSciFi: {
		World: models.WorldSetting{
			WorldName:        "新纪元联邦",
			WorldDescription: "人类走出太阳系的第三个世纪，星际殖民地与地球联邦之间暗流涌动。",
			PowerSystem:      "神经接口与基因强化等级",
			MainLocations:    []string{"环轨都市天穹", "火星船坞", "边境殖民星"},
			KeyFactions:      []string{"地球联邦", "殖民地自治同盟", "深空财团"},
			WorldRules:       []string{"跃迁航行受信标网络限制", "强人工智能受法律约束"},
			StartingScene:    "天穹空间站的下层维修区，一段来源不明的信号突然出现。",
		},
		Hero: models.Protagonist{
			Name:             "陈星",
			Age:              "二十四岁",
			Gender:           "男",
			Personality:      "冷静理性，好奇心强",
			Background:       "空间站维修工程师。",
			InitialAbilities: []string{"系统入侵"},
			Goals:            []string{"查明信号的来源"},
			Weaknesses:       []string{"不善与人交往"},
			StartingScenario: "维修区收到神秘信号。",
		},
		Scene:        "舷窗外星光冷冽，警报灯在走廊尽头无声闪烁。",
		ChapterTitle: "未知信号",
	},
	models.ThemeUrban: {
		World: models.WorldSetting{
			WorldName:        "江城",
			WorldDescription: "繁华的现代都市，表面平静，暗处潜藏着觉醒者与隐秘组织。",
			PowerSystem:      "觉醒者能力分级",
			MainLocations:    []string{"中央商务区", "老城区", "江畔夜市"},
			KeyFactions:      []string{"天启集团", "守夜人", "地下拍卖行"},
			WorldRules:       []string{"觉醒者不得在普通人面前暴露能力"},
			StartingScene:    "深夜的老城区街口，一场意外改变了一切。",
		},
		Hero: models.Protagonist{
			Name:             "王浩",
			Age:              "二十二岁",
			Gender:           "男",
			Personality:      "乐观仗义，嘴硬心软",
			Background:       "刚毕业的外卖骑手。",
			InitialAbilities: []string{"敏锐的直觉"},
			Goals:            []string{"在江城站稳脚跟"},
			Weaknesses:       []string{"容易冲动"},
			StartingScenario: "送完最后一单时卷入一场冲突。",
		},
		Scene:        "霓虹灯在雨水里晕开，城市的喧嚣掩盖着危险的气息。",
		ChapterTitle: "夜色之下",
	},
	models.ThemeRomance: {
		World: models.WorldSetting{
			WorldName:        "南城",
			WorldDescription: "一座温柔的海滨城市，咖啡馆、书店和旧街巷里藏着许多故事。",
			PowerSystem:      "无超凡力量，情感与选择决定命运",
			MainLocations:    []string{"海边咖啡馆", "城南旧书店", "艺术学院"},
			KeyFactions:      []string{"沈氏家族", "艺术学院同窗", "咖啡馆常客"},
			WorldRules:       []string{"家族期望与个人选择常常冲突"},
			StartingScene:    "初夏的午后，海边咖啡馆里的一次偶遇。",
		},
		Hero: models.Protagonist{
			Name:             "苏晴",
			Age:              "二十三岁",
			Gender:           "女",
			Personality:      "温柔独立，外柔内刚",
			Background:       "艺术学院毕业的插画师。",
			InitialAbilities: []string{"细腻的观察力"},
			Goals:            []string{"开一家属于自己的画室"},
			Weaknesses:       []string{"不愿表露真心"},
			StartingScenario: "在咖啡馆打工时遇见了一位特别的客人。",
		},
		Scene:        "窗外的海风带着咸味，阳光落在未完成的画稿上。",
		ChapterTitle: "心动时刻",
	},
	models.ThemeWuxia: {
		World: models.WorldSetting{
			WorldName:        "九州江湖",
			WorldDescription: "朝廷式微，门派并立，江湖恩怨与家国大义交织。",
			PowerSystem:      "内功心法与招式境界",
			MainLocations:    []string{"华山之巅", "悦来客栈", "洛阳城"},
			KeyFactions:      []string{"少林", "武当", "天魔教"},
			WorldRules:       []string{"江湖事江湖了", "不得滥杀无辜"},
			StartingScene:    "风雪夜里的悦来客栈，一柄染血的长剑被放在柜台上。",
		},
		Hero: models.Protagonist{
			Name:             "萧寒",
			Age:              "十八岁",
			Gender:           "男",
			Personality:      "重情重义，沉默寡言",
			Background:       "镖局少主，家门遭逢巨变。",
			InitialAbilities: []string{"家传剑法"},
			Goals:            []string{"查明灭门真相"},
			Weaknesses:       []string{"内力尚浅"},
			StartingScenario: "隐姓埋名投宿客栈。",
		},
		Scene:        "北风卷着雪粒拍打窗棂，客栈里的酒客各怀心事。",
		ChapterTitle: "风起江湖",
	},
	models.ThemeFantasy: {
		World: models.WorldSetting{
			WorldName:        "艾瑞大陆",
			WorldDescription: "魔法与剑并存的古老大陆，沉睡的巨龙正在苏醒。",
			PowerSystem:      "元素魔法与圣阶骑士",
			MainLocations:    []string{"白塔法师城", "迷雾森林", "龙脊山脉"},
			KeyFactions:      []string{"白塔议会", "精灵王庭", "暗影教团"},
			WorldRules:       []string{"施法需要付出代价"},
			StartingScene:    "边境小镇的集市上，一位陌生旅人带来了龙醒的消息。",
		},
		Hero: models.Protagonist{
			Name:             "艾伦",
			Age:              "十七岁",
			Gender:           "男",
			Personality:      "勇敢莽撞，心地善良",
			Background:       "边境小镇铁匠的学徒。",
			InitialAbilities: []string{"微弱的火元素亲和"},
			Goals:            []string{"成为真正的骑士"},
			Weaknesses:       []string{"魔力不稳定"},
			StartingScenario: "集市上遇见陌生旅人。",
		},
		Scene:        "古老的钟楼投下长长的影子，风中传来若有若无的龙吟。",
		ChapterTitle: "龙醒之兆",
	},
	models.ThemeMystery: {
		World: models.WorldSetting{
			WorldName:        "雾港市",
			WorldDescription: "常年被海雾笼罩的港口城市，一桩旧案的阴影从未散去。",
			PowerSystem:      "推理与证据",
			MainLocations:    []string{"旧码头", "市警局档案室", "钟楼公寓"},
			KeyFactions:      []string{"市警局", "港口商会", "匿名寄信人"},
			WorldRules:       []string{"每条线索都有出处"},
			StartingScene:    "一封没有署名的信被塞进了事务所的门缝。",
		},
		Hero: models.Protagonist{
			Name:             "沈默",
			Age:              "三十岁",
			Gender:           "男",
			Personality:      "冷静敏锐，不苟言笑",
			Background:       "离开警队后开设私家侦探事务所。",
			InitialAbilities: []string{"细节推理"},
			Goals:            []string{"查清十年前的旧案"},
			Weaknesses:       []string{"对过去耿耿于怀"},
			StartingScenario: "收到匿名来信。",
		},
		Scene:        "雾气在街灯下翻涌，远处的汽笛声让人心神不宁。",
		ChapterTitle: "迷雾来信",
	},
	models.ThemeHistorical: {
		World: models.WorldSetting{
			WorldName:        "大胤王朝",
			WorldDescription: "立国百年的王朝，外有边患，内有党争，盛世之下暗藏危机。",
			PowerSystem:      "官阶品级与兵权",
			MainLocations:    []string{"京城", "北境边关", "江南漕运重镇"},
			KeyFactions:      []string{"内阁", "勋贵世家", "边军"},
			WorldRules:       []string{"礼法森严，言行皆有规矩"},
			StartingScene:    "科举放榜之日，京城街头人声鼎沸。",
		},
		Hero: models.Protagonist{
			Name:             "顾青",
			Age:              "二十岁",
			Gender:           "男",
			Personality:      "谨慎有谋，心怀抱负",
			Background:       "没落书香门第的次子。",
			InitialAbilities: []string{"博览群书"},
			Goals:            []string{"重振家门"},
			Weaknesses:       []string{"朝中无人"},
			StartingScenario: "金榜题名之日。",
		},
		Scene:        "宫墙外的槐花簌簌落下，朝堂上的风波却才刚刚开始。",
		ChapterTitle: "金榜之后",
	},
}

func defaultsFor(theme models.Theme) themeDefaults {
	if d, ok := defaultsByTheme[theme]; ok {
		return d
	}
	return defaultsByTheme[models.ThemeCultivation]
}

func cloneStrings(in []string) []string {
	return append([]string(nil), in...)
}

// FallbackWorldSetting - мир по умолчанию для темы.
func FallbackWorldSetting(theme models.Theme) *models.WorldSetting {
	ws := defaultsFor(theme).World
	ws.MainLocations = cloneStrings(ws.MainLocations)
	ws.KeyFactions = cloneStrings(ws.KeyFactions)
	ws.WorldRules = cloneStrings(ws.WorldRules)
	return &ws
}

// FallbackProtagonist - герой по умолчанию для темы.
func FallbackProtagonist(theme models.Theme) *models.Protagonist {
	p := defaultsFor(theme).Hero
	p.InitialAbilities = cloneStrings(p.InitialAbilities)
	p.Goals = cloneStrings(p.Goals)
	p.Weaknesses = cloneStrings(p.Weaknesses)
	p.SpecialTraits = cloneStrings(p.SpecialTraits)
	return &p
}

func heroName(fc FallbackContext) string {
	if fc.ProtagonistName != "" {
		return fc.ProtagonistName
	}
	return "主人公"
}

func chapterNumber(fc FallbackContext) int {
	if fc.ChapterNumber > 0 {
		return fc.ChapterNumber
	}
	return 1
}

// FallbackChapter - шаблонная глава с тремя вариантами выбора по умолчанию.
func FallbackChapter(fc FallbackContext) *models.Chapter {
	d := defaultsFor(fc.Theme)
	n := chapterNumber(fc)
	name := heroName(fc)
	world := fc.WorldName
	if world == "" {
		world = d.World.WorldName
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s的故事在%s继续。%s\n", fc.Theme, world, d.Scene)
	if fc.ChoiceText != "" {
		fmt.Fprintf(&sb, "%s回想起刚才的决定：%s。这个选择带来的影响正在慢慢显现。\n", name, fc.ChoiceText)
	}
	fmt.Fprintf(&sb, "%s深吸一口气，环顾四周。前方的路并不平坦，每一步都可能改变命运。\n", name)
	fmt.Fprintf(&sb, "片刻之后，%s握紧了双拳，决定直面接下来的挑战。", name)

	return &models.Chapter{
		ChapterNumber: n,
		Title:         fmt.Sprintf("第%d章 %s", n, d.ChapterTitle),
		Content:       sb.String(),
		Summary:       fmt.Sprintf("%s在%s面临新的抉择。", name, world),
		Choices:       DefaultChoices(DefaultChoiceCount),
	}
}

// FallbackEnding - шаблонный финал без вариантов выбора.
func FallbackEnding(fc FallbackContext) *models.Chapter {
	d := defaultsFor(fc.Theme)
	n := chapterNumber(fc)
	name := heroName(fc)
	world := fc.WorldName
	if world == "" {
		world = d.World.WorldName
	}
	content := fmt.Sprintf("%s\n经历了这一路的风雨，%s终于走到了旅途的终点。%s的传说仍在流传，而新的故事将由后来者书写。", d.Scene, name, world)
	return &models.Chapter{
		ChapterNumber: n,
		Title:         fmt.Sprintf("第%d章 终章", n),
		Content:       content,
		Summary:       fmt.Sprintf("%s的故事迎来结局。", name),
		Choices:       []models.ChoiceOption{},
		IsEnding:      true,
	}
}

// FallbackChoiceAnalysis - нейтральный анализ выбора.
func FallbackChoiceAnalysis(fc FallbackContext) *models.ChoiceAnalysis {
	choice := fc.ChoiceText
	if choice == "" {
		choice = "这个决定"
	}
	name := heroName(fc)
	return &models.ChoiceAnalysis{
		ImmediateConsequence: fmt.Sprintf("%s让局势发生了变化。", choice),
		LongTermImpact:       "这一选择会在之后的剧情中留下伏笔。",
		CharacterChange:      fmt.Sprintf("%s在抉择中变得更加成熟。", name),
		RelationshipChange:   "身边的人对主人公的看法有所改变。",
		PlotDirection:        "故事将沿着这一选择继续推进。",
	}
}

func plotStage(chapter int) string {
	switch {
	case chapter <= 2:
		return "开端"
	case chapter <= 6:
		return "发展"
	case chapter <= 10:
		return "高潮"
	default:
		return "结局"
	}
}

// FallbackStoryAnalysis - оценка по номеру главы.
func FallbackStoryAnalysis(fc FallbackContext) *models.StoryAnalysis {
	n := chapterNumber(fc)
	return &models.StoryAnalysis{
		CurrentPlotStage:     plotStage(n),
		TensionLevel:         clampTension(3 + n/2),
		CharacterArcProgress: fmt.Sprintf("%s仍在成长之中。", heroName(fc)),
		SuggestedNextEvents:  []string{"引入新的对手", "揭示一个隐藏的秘密", "让主人公面对艰难的抉择"},
		PotentialEndings:     []string{"主人公实现目标", "主人公付出代价后获得成长"},
	}
}

// FallbackStorySummary склеивает краткие описания глав.
func FallbackStorySummary(fc FallbackContext) *models.StoryAnalysis {
	a := FallbackStoryAnalysis(fc)
	if len(fc.History) == 0 {
		a.Summary = "故事尚未展开。"
		return a
	}
	parts := make([]string, 0, len(fc.History))
	for _, h := range fc.History {
		summary := h.Summary
		if summary == "" {
			summary = h.Title
		}
		parts = append(parts, fmt.Sprintf("第%d章：%s", h.ChapterNumber, summary))
	}
	a.Summary = strings.Join(parts, "\n")
	return a
}

func clampTension(v int) int {
	if v < 1 {
		return 1
	}
	if v > 10 {
		return 10
	}
	return v
}
