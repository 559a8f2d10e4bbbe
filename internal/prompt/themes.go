package prompt

import (
	"fmt"

	"novel-engine/shared/models"
)

// themeProfile - фиксированный шаблон темы: жанровая строка, требования к миру и стиль письма.
type themeProfile struct {
	Genre        string
	WorldDemands []string
	Style        string
}

var themeProfiles = map[models.Theme]themeProfile{
	models.ThemeCultivation: {
		Genre: "东方修仙小说，讲述凡人踏上求道之路、逆天改命的故事",
		WorldDemands: []string{
			"给出清晰的修炼境界划分，例如练气、筑基、金丹、元婴",
			"包含宗门、魔道与散修等多方势力",
			"设定灵气、法宝、丹药、阵法等修仙元素",
			"安排灵山、洞府、秘境等适合修炼与探险的地点",
		},
		Style: "文风古朴大气，兼顾意境描写与修炼细节，节奏张弛有度",
	},
	models.ThemeSciFi: {
		Genre: "硬核与想象并重的科幻小说，探讨科技与人性的冲突",
		WorldDemands: []string{
			"说明科技发展水平与社会结构",
			"包含星际文明、人工智能、基因改造等元素",
			"描绘宇宙背景与星际政治格局",
			"设计具有未来感的城市、舰船或研究设施",
		},
		Style: "叙述冷静克制，细节可信，悬念与思辨交织",
	},
	models.ThemeUrban: {
		Genre: "现代都市小说，可带有隐秘的超凡元素",
		WorldDemands: []string{
			"以当代城市为舞台，融入商业、政治、娱乐等社会要素",
			"设定隐藏在日常之下的特殊能力或秘密组织",
			"安排写字楼、夜市、老街区等有生活气息的地点",
		},
		Style: "语言轻快贴近生活，对话鲜活，爽点与人情味兼备",
	},
	models.ThemeRomance: {
		Genre: "细腻动人的言情小说，以人物情感的起伏为主线",
		WorldDemands: []string{
			"营造适合情感发展的环境与氛围",
			"设置能够推动感情线的社交场合与人际关系",
			"给出阻碍或考验感情的社会背景",
		},
		Style: "笔触温柔细腻，重视心理描写，情绪层层递进",
	},
	models.ThemeWuxia: {
		Genre: "传统武侠小说，讲述江湖恩怨与侠义精神",
		WorldDemands: []string{
			"设计武功体系、内功心法与江湖门派",
			"包含正派、邪派与中立势力",
			"设定江湖规矩和流传的武林秘籍",
			"安排客栈、山庄、古刹、秘洞等经典场景",
		},
		Style: "文字洒脱利落，招式描写干净，侠气与柔情并存",
	},
	models.ThemeFantasy: {
		Genre: "西式奇幻小说，充满魔法、异族与冒险",
		WorldDemands: []string{
			"设计魔法体系及其代价",
			"包含王国、种族与古老组织",
			"安排森林、遗迹、浮空城等奇幻地点",
		},
		Style: "想象瑰丽，场面宏大，冒险感强",
	},
	models.ThemeMystery: {
		Genre: "悬疑推理小说，以谜团与真相的揭示为核心",
		WorldDemands: []string{
			"设定贯穿全篇的核心谜团",
			"包含警方、嫌疑人与知情者等立场各异的群体",
			"安排封闭或暗藏线索的场所",
		},
		Style: "节奏紧凑，伏笔严密，线索公平地呈现给读者",
	},
	models.ThemeHistorical: {
		Genre: "历史小说，在真实朝代风貌中展开人物命运",
		WorldDemands: []string{
			"选定朝代或虚构王朝并说明政治格局",
			"包含朝堂、世家、军旅、市井等社会阶层",
			"贴合时代的礼制、器物与风俗",
		},
		Style: "语言典雅沉稳，注重时代细节，人物命运与时局交织",
	},
}

func profileFor(theme models.Theme) (themeProfile, error) {
	if err := models.ValidateTheme(theme); err != nil {
		return themeProfile{}, err
	}
	p, ok := themeProfiles[theme]
	if !ok {
		return themeProfile{}, fmt.Errorf("%w: no template for '%s'", models.ErrInvalidTheme, theme)
	}
	return p, nil
}
